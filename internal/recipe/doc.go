// Package recipe runs precondition-guarded plans.
//
// A Recipe checks its preconditions against the logic engine, then runs a
// fresh body computation. At most one execution is in flight per recipe:
// Execute calls made while one runs are queued and all receive the same
// outcome. A Task holds alternative recipes and runs the first whose
// preconditions hold.
//
// Recipes and tasks are driven from the agent's event loop and implement
// compute.Computation, so a task can be a step of another recipe.
package recipe
