// Package compute implements abortable computations: units of
// asynchronous work with a two-operation contract.
//
//	Compute(cb) starts the work and eventually calls cb exactly once,
//	with nil on success or the error that ended it.
//	Abort() asks the work to stop early and reports whether the request
//	was accepted (false when nothing is in flight).
//
// Every computation is driven from its agent's event loop. Callbacks are
// invoked on that loop, so computations keep no locks; Future is the one
// type meant to be read from other goroutines.
//
// Composition is fail-fast: Sequence forwards the first error unchanged
// and never starts the remaining steps.
package compute
