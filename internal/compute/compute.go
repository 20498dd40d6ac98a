package compute

import (
	"time"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
)

// Callback receives the outcome of a computation: nil on success.
type Callback func(err error)

// Computation is the abortable unit of work.
type Computation interface {
	Compute(cb Callback)
	Abort() bool
}

// Identified is implemented by computations that own a remote request.
// ID returns the zero Identifier until the request has been sent.
type Identified interface {
	ID() ir.Identifier
}

// Timers schedules delayed work on the event loop. *engine.Loop
// implements it.
type Timers interface {
	AfterFunc(d time.Duration, f func()) engine.Timer
}

// Handle is the capability a computation uses to reach other agents.
// *agent.Agent implements it. All callbacks run on the agent's loop.
type Handle interface {
	// RequestConstraint sends a request-constraint message and returns its
	// identifier. onAnswer receives nil for SUCCESS, an INTERRUPTED or
	// FAILURE RuntimeError for the other answers, or a transport error.
	// It is called at most once.
	RequestConstraint(agent string, mode ir.ConstraintMode, constraint *ir.Call, onAnswer Callback) (ir.Identifier, error)

	// SendAbort sends an abort for a request this agent issued. onAck is
	// called once the remote finalizer acknowledged the abort, or with a
	// transport error. onAck may be nil.
	SendAbort(id ir.Identifier, onAck Callback) error

	// Forget drops the correlation entry of id. A late answer is discarded.
	Forget(id ir.Identifier)
}

// State is the lifecycle of a computation.
type State int

const (
	StateIdle State = iota
	StateComputing
	StateAborting
	StateSucceeded
	StateFailed
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputing:
		return "computing"
	case StateAborting:
		return "aborting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is a completed one.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Active reports whether work is in flight.
func (s State) Active() bool {
	return s == StateComputing || s == StateAborting
}

// stateOf maps a completion error to its terminal state.
func stateOf(err error) State {
	switch {
	case err == nil:
		return StateSucceeded
	case engine.IsInterrupted(err), engine.IsAborted(err):
		return StateInterrupted
	default:
		return StateFailed
	}
}

// completion delivers a result to the callback of the current run exactly
// once. Starting a new run replaces the callback.
type completion struct {
	cb   Callback
	done bool
}

func (c *completion) start(cb Callback) {
	c.cb = cb
	c.done = false
}

// fire calls the callback unless it already ran. It reports whether it did.
func (c *completion) fire(err error) bool {
	if c.done {
		return false
	}
	c.done = true
	cb := c.cb
	c.cb = nil
	if cb != nil {
		cb(err)
	}
	return true
}
