package compute

import (
	"time"

	"github.com/roach88/ability/internal/engine"
)

// DefaultPoll is the poll interval used when a Wait is given none.
const DefaultPoll = 100 * time.Millisecond

// Condition is polled by Wait. An error ends the wait.
type Condition func() (bool, error)

// Wait polls a condition on a fixed delay until it holds, an error occurs,
// the timeout elapses or it is aborted. Each poll is a timer on the loop;
// nothing busy-loops.
type Wait struct {
	timers  Timers
	cond    Condition
	poll    time.Duration
	timeout time.Duration

	state   State
	timer   engine.Timer
	elapsed time.Duration
	done    completion
}

// NewWait creates a wait. poll <= 0 means DefaultPoll; timeout <= 0 waits
// until the condition holds or Abort is called.
func NewWait(timers Timers, cond Condition, poll, timeout time.Duration) *Wait {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Wait{timers: timers, cond: cond, poll: poll, timeout: timeout}
}

// Compute checks the condition right away, then on every poll.
func (w *Wait) Compute(cb Callback) {
	if w.state.Active() {
		cb(ErrBusy)
		return
	}
	w.done.start(cb)
	w.state = StateComputing
	w.elapsed = 0
	w.check()
}

func (w *Wait) check() {
	if w.state != StateComputing {
		return
	}
	ok, err := w.cond()
	switch {
	case err != nil:
		w.finish(err)
	case ok:
		w.finish(nil)
	case w.timeout > 0 && w.elapsed >= w.timeout:
		w.finish(engine.NewTimeoutError("wait"))
	default:
		w.timer = w.timers.AfterFunc(w.poll, func() {
			w.timer = nil
			w.elapsed += w.poll
			w.check()
		})
	}
}

func (w *Wait) finish(err error) {
	w.state = stateOf(err)
	w.done.fire(err)
}

// Abort cancels the pending poll and completes with an ABORTED error.
func (w *Wait) Abort() bool {
	if w.state != StateComputing {
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.finish(engine.NewAbortedError("wait"))
	return true
}

// State returns the current state.
func (w *Wait) State() State { return w.state }
