package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a scheduled function that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It returns true if the call stopped the
	// function from running.
	Stop() bool
}

// Scheduler creates timers. The default uses time.AfterFunc; tests inject a
// manual scheduler to drive time explicitly.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Loop is the single-goroutine event loop of one agent.
//
// Thread-safety model:
//   - Post, AfterFunc, Stop, Done: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Drain: only when Run is not running (tests)
//
// Every task runs to completion before the next starts. A task that panics
// is logged and the loop continues.
type Loop struct {
	queue     *taskQueue
	scheduler Scheduler
	logger    *slog.Logger
	running   atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithScheduler replaces the wall-clock timer source.
func WithScheduler(s Scheduler) LoopOption {
	return func(l *Loop) {
		l.scheduler = s
	}
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a stopped loop. Tasks may be posted before Run.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		queue:     newTaskQueue(),
		scheduler: wallScheduler{},
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post schedules fn to run on the loop. Returns false once the loop is
// stopped.
func (l *Loop) Post(fn func()) bool {
	return l.queue.Enqueue(fn)
}

// AfterFunc posts fn to the loop after d. Stopping the returned timer
// guarantees fn does not run, even when the delay already elapsed and fn
// is queued.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.inner = l.scheduler.AfterFunc(d, func() {
		l.Post(func() {
			if lt.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return lt
}

type loopTimer struct {
	inner     Timer
	cancelled atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.inner.Stop()
	return true
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks
// queued when Stop is called still run before Run returns; tasks queued
// when ctx is cancelled are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop already running")
	}
	defer l.running.Store(false)
	defer l.doneOnce.Do(func() { close(l.done) })
	l.logger.Debug("loop starting")

	for {
		if fn, ok := l.queue.TryDequeue(); ok {
			l.exec(fn)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel is closed once the queue is closed, so an
			// empty queue here means Stop was called and everything ran.
			if l.queue.Len() == 0 && l.closed() {
				l.logger.Debug("loop stopping: closed")
				return nil
			}
		}
	}
}

// Done is closed once Run has returned. Goroutines waiting on work posted
// to the loop select on it so a loop that stopped early releases them.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) closed() bool {
	l.queue.mu.Lock()
	defer l.queue.mu.Unlock()
	return l.queue.closed
}

// Drain runs queued tasks on the calling goroutine until the queue is
// empty, including tasks posted while draining. It returns the number of
// tasks run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.exec(fn)
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return l.queue.Len()
}

// Stop closes the loop to new tasks. Run returns after the queued tasks ran.
func (l *Loop) Stop() {
	l.queue.Close()
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
