// Package logic implements the reasoning kernel shared by the compiler and
// the runtime: a predicate registry, asymmetric unification, per-context
// fact sets and forward-chaining rules saturated to a fixed point.
//
// IDENTIFIERS:
//
// The raw Unify primitive binds every identifier found in its first
// argument. The fact store and the rule engine follow the Prolog convention
// instead: identifiers starting with an upper-case letter or '_' are logic
// variables, everything else (robot, x::value) is a symbol that must match
// exactly. Facts must be ground, i.e. contain no logic variables.
//
// MONOTONICITY:
//
// Rules only add facts, never retract them, so the saturated fact set does
// not depend on the order in which rules fire. Infer saturates lazily and
// never changes stored facts beyond that saturation.
//
// Thread-safety: Engine is safe for concurrent use. Registry and FactSet
// are not; Engine guards them with its own lock.
package logic
