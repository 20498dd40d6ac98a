package compute

import (
	"context"
	"errors"
	"sync"
)

// ErrNoValue is returned by Future.Get when no value has been set.
var ErrNoValue = errors.New("future has no value")

// Future holds the eventual result of a remote read. It is safe for
// concurrent use: the loop resolves it, any goroutine may read it.
type Future[T any] struct {
	mu      sync.Mutex
	value   T
	err     error
	settled bool
	done    chan struct{}
	then    []func(T, error)
}

// NewFuture returns an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve sets the value. Only the first Resolve or Reject counts; it
// reports whether this call settled the future.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with an error.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.value, f.err, f.settled = v, err, true
	then := f.then
	f.then = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range then {
		fn(v, err)
	}
	return true
}

// Get returns the value when the future resolved with one. It returns the
// rejection error when rejected and ErrNoValue while unsettled.
func (f *Future[T]) Get() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	switch {
	case !f.settled:
		return zero, ErrNoValue
	case f.err != nil:
		return zero, f.err
	default:
		return f.value, nil
	}
}

// HasValue reports whether the future resolved with a value.
func (f *Future[T]) HasValue() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled && f.err == nil
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Then calls fn with the outcome once settled; immediately if it already is.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.then = append(f.then, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Wait blocks until the future settles or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
