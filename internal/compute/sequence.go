package compute

import (
	"github.com/roach88/ability/internal/engine"
)

// Sequence runs its steps strictly in order. The first error ends the
// sequence and is passed up unchanged; later steps never start.
type Sequence struct {
	steps []Computation

	state  State
	next   int
	active Computation
	done   completion

	// OnStep, if set, is called after each step completes with its index.
	OnStep func(i int, err error)
}

// NewSequence creates a sequence of steps.
func NewSequence(steps ...Computation) *Sequence {
	return &Sequence{steps: steps}
}

// Len returns the number of steps.
func (s *Sequence) Len() int { return len(s.steps) }

// Compute runs the steps from the first.
func (s *Sequence) Compute(cb Callback) {
	if s.state.Active() {
		cb(ErrBusy)
		return
	}
	s.done.start(cb)
	s.state = StateComputing
	s.next = 0
	s.advance()
}

func (s *Sequence) advance() {
	if s.next == len(s.steps) {
		s.finish(nil)
		return
	}
	i := s.next
	step := s.steps[i]
	s.next++
	s.active = step
	step.Compute(func(err error) {
		s.onStep(i, step, err)
	})
}

func (s *Sequence) onStep(i int, step Computation, err error) {
	if s.active != step || !s.state.Active() {
		// Stale completion of a step we already gave up on.
		return
	}
	s.active = nil
	if s.OnStep != nil {
		s.OnStep(i, err)
	}
	switch {
	case err != nil:
		s.finish(err)
	case s.state == StateAborting:
		s.finish(engine.NewAbortedError("sequence"))
	default:
		s.advance()
	}
}

func (s *Sequence) finish(err error) {
	s.active = nil
	s.state = stateOf(err)
	s.done.fire(err)
}

// Abort aborts the active step. Completed steps are not undone. When the
// active step does not accept the abort, the sequence completes with an
// ABORTED error right away.
func (s *Sequence) Abort() bool {
	if s.state != StateComputing {
		return false
	}
	s.state = StateAborting
	if s.active != nil && s.active.Abort() {
		// The step's callback completes the sequence.
		return true
	}
	s.finish(engine.NewAbortedError("sequence"))
	return true
}

// State returns the current state.
func (s *Sequence) State() State { return s.state }

// Func adapts a synchronous function into a computation. It cannot be
// aborted.
type Func func() error

// Compute runs the function and reports its error.
func (f Func) Compute(cb Callback) {
	cb(f())
}

// Abort always returns false.
func (Func) Abort() bool { return false }
