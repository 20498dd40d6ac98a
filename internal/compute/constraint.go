package compute

import (
	"errors"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
)

// ErrBusy is reported to a Compute call made while a previous run of the
// same computation is still in flight.
var ErrBusy = errors.New("computation already in flight")

// Make asks a remote agent to make a constraint true once. Its callback
// fires only on the remote's terminal answer: nil for SUCCESS, an
// INTERRUPTED error after an abort, a FAILURE error otherwise.
type Make struct {
	h          Handle
	agent      string
	constraint *ir.Call

	state State
	id    ir.Identifier
	done  completion
}

// NewMake creates a make computation for constraint on agent.
func NewMake(h Handle, agent string, constraint *ir.Call) *Make {
	return &Make{h: h, agent: agent, constraint: constraint}
}

// Compute sends the request.
func (m *Make) Compute(cb Callback) {
	if m.state.Active() {
		cb(ErrBusy)
		return
	}
	m.done.start(cb)
	m.state = StateComputing
	m.id = ir.Identifier{}

	id, err := m.h.RequestConstraint(m.agent, ir.ModeMake, m.constraint, m.onAnswer)
	if err != nil {
		m.finish(err)
		return
	}
	m.id = id
}

func (m *Make) onAnswer(err error) {
	if !m.state.Active() {
		return
	}
	m.finish(err)
}

func (m *Make) finish(err error) {
	m.state = stateOf(err)
	m.done.fire(err)
}

// Abort sends one abort message for the outstanding request. It returns
// false when no request is outstanding or an abort was already sent. The
// remote side answers the request with INTERRUPTED, which completes the
// callback.
func (m *Make) Abort() bool {
	if m.state != StateComputing || m.id.IsZero() {
		return false
	}
	m.state = StateAborting
	if err := m.h.SendAbort(m.id, nil); err != nil {
		m.h.Forget(m.id)
		m.finish(err)
	}
	return true
}

// ID returns the identifier of the last request sent.
func (m *Make) ID() ir.Identifier { return m.id }

// State returns the current state.
func (m *Make) State() State { return m.state }

// Ensure asks a remote agent to keep a constraint true. Compute completes
// as soon as the request is sent; the remote keeps servicing it until an
// abort. A terminal answer that arrives later (FAILURE when the remote
// gave up, INTERRUPTED after our abort) is recorded and passed to the
// OnEnd hook.
type Ensure struct {
	h          Handle
	agent      string
	constraint *ir.Call

	state State
	id    ir.Identifier
	err   error

	// OnEnd, if set, is called when the remote request ends.
	OnEnd func(id ir.Identifier, err error)
}

// NewEnsure creates an ensure computation for constraint on agent.
func NewEnsure(h Handle, agent string, constraint *ir.Call) *Ensure {
	return &Ensure{h: h, agent: agent, constraint: constraint}
}

// Compute sends the request and calls cb once it is on its way.
func (e *Ensure) Compute(cb Callback) {
	if e.state.Active() {
		cb(ErrBusy)
		return
	}
	e.state = StateComputing
	e.err = nil

	id, err := e.h.RequestConstraint(e.agent, ir.ModeEnsure, e.constraint, e.onAnswer)
	if err != nil {
		e.state = StateFailed
		e.err = err
		cb(err)
		return
	}
	e.id = id
	cb(nil)
}

func (e *Ensure) onAnswer(err error) {
	if !e.state.Active() {
		return
	}
	if err == nil {
		// An ensure never succeeds on its own; treat a bare SUCCESS as the
		// remote ending enforcement.
		err = engine.NewFailureError(e.id, "ensure ended without abort")
	}
	e.state = stateOf(err)
	e.err = err
	if e.OnEnd != nil {
		e.OnEnd(e.id, err)
	}
}

// Abort sends an abort message for the enforced request. It returns false
// when the request is not being enforced.
func (e *Ensure) Abort() bool {
	if e.state != StateComputing {
		return false
	}
	e.state = StateAborting
	if err := e.h.SendAbort(e.id, nil); err != nil {
		e.h.Forget(e.id)
		e.state = StateFailed
		e.err = err
	}
	return true
}

// ID returns the identifier of the enforced request.
func (e *Ensure) ID() ir.Identifier { return e.id }

// State returns the current state.
func (e *Ensure) State() State { return e.state }

// Err returns the error that ended enforcement, if any.
func (e *Ensure) Err() error { return e.err }

// AbortExpr aborts the request of another computation and completes only
// after the remote finalizer acknowledged it, so the caller never moves
// past the abort before the remote work has unwound.
type AbortExpr struct {
	h      Handle
	target Identified

	state State
	id    ir.Identifier
	done  completion
}

// NewAbortExpr creates an abort of target's request.
func NewAbortExpr(h Handle, target Identified) *AbortExpr {
	return &AbortExpr{h: h, target: target}
}

// Compute sends the abort. A target that never sent a request completes
// immediately with nil.
func (a *AbortExpr) Compute(cb Callback) {
	if a.state.Active() {
		cb(ErrBusy)
		return
	}
	a.id = a.target.ID()
	if a.id.IsZero() {
		a.state = StateSucceeded
		cb(nil)
		return
	}
	a.done.start(cb)
	a.state = StateComputing

	// Mark the target as aborting so its own callback path does not send a
	// second abort.
	if t, ok := a.target.(*Ensure); ok && t.state == StateComputing {
		t.state = StateAborting
	}
	if err := a.h.SendAbort(a.id, a.onAck); err != nil {
		a.h.Forget(a.id)
		a.finish(err)
	}
}

func (a *AbortExpr) onAck(err error) {
	if !a.state.Active() {
		return
	}
	a.finish(err)
}

func (a *AbortExpr) finish(err error) {
	a.state = stateOf(err)
	a.done.fire(err)
}

// Abort stops waiting for the acknowledgement. The abort message itself
// cannot be recalled.
func (a *AbortExpr) Abort() bool {
	if !a.state.Active() {
		return false
	}
	a.finish(engine.NewAbortedError("abort of " + a.id.String()))
	return true
}
