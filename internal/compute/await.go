package compute

import (
	"context"
	"errors"
)

// Poster schedules work on an event loop. *engine.Loop implements it.
type Poster interface {
	Post(fn func()) bool
}

// Runner is a Poster whose end can be observed. Done is closed once the
// loop no longer runs tasks. *engine.Loop implements it.
type Runner interface {
	Poster
	Done() <-chan struct{}
}

// ErrLoopStopped is returned when the loop rejects the work or stops
// before it completes.
var ErrLoopStopped = errors.New("event loop stopped")

// Await starts c on the loop and blocks the calling goroutine until it
// completes or ctx is done. On ctx cancellation the computation is aborted
// and Await waits for its callback, so the work has unwound on return. A
// computation aborted into success reports ctx.Err().
func Await(ctx context.Context, loop Runner, c Computation) error {
	_, err := AwaitResult(ctx, loop,
		func(done func(struct{}, error)) {
			c.Compute(func(err error) { done(struct{}{}, err) })
		},
		c.Abort)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// AwaitResult posts start to the loop and blocks until start's callback
// delivers a value. When ctx is done it posts abort and waits for the
// callback again. Every wait also ends when the loop stops: work dropped
// by a stopped loop reports ErrLoopStopped, or ctx.Err() once cancelled.
func AwaitResult[T any](ctx context.Context, loop Runner, start func(done func(T, error)), abort func() bool) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	var zero T
	result := make(chan outcome, 1)
	if !loop.Post(func() {
		start(func(v T, err error) {
			select {
			case result <- outcome{v, err}:
			default:
			}
		})
	}) {
		return zero, ErrLoopStopped
	}

	// finish prefers a delivered result over the fallback error.
	finish := func(fallback error) (T, error) {
		select {
		case o := <-result:
			return o.v, o.err
		default:
			return zero, fallback
		}
	}

	select {
	case o := <-result:
		return o.v, o.err
	case <-loop.Done():
		return finish(ErrLoopStopped)
	case <-ctx.Done():
	}

	aborted := make(chan bool, 1)
	if !loop.Post(func() { aborted <- abort() }) {
		return finish(ctx.Err())
	}
	select {
	case ok := <-aborted:
		if !ok {
			// Nothing in flight: the work finished in the meantime.
			return finish(ctx.Err())
		}
	case o := <-result:
		return o.v, o.err
	case <-loop.Done():
		return finish(ctx.Err())
	}

	select {
	case o := <-result:
		return o.v, o.err
	case <-loop.Done():
		return finish(ctx.Err())
	}
}
