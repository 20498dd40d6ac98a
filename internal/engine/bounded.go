package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by BoundedQueue operations after Close.
var ErrQueueClosed = errors.New("queue closed")

// BoundedQueue is a fixed-capacity FIFO safe for concurrent producers and
// consumers. It is guarded by a single mutex with two condition variables:
// consumers wait for items, producers wait for room.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	head     int
	size     int
	closed   bool
}

// NewBoundedQueue creates a queue holding at most capacity items.
// A capacity below 1 is raised to 1.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &BoundedQueue[T]{items: make([]T, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks until there is room, then appends v.
func (q *BoundedQueue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == len(q.items) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.pushLocked(v)
	return nil
}

// TryPush appends v if there is room and reports whether it did.
func (q *BoundedQueue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.size == len(q.items) {
		return false
	}
	q.pushLocked(v)
	return true
}

func (q *BoundedQueue[T]) pushLocked(v T) {
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	q.notEmpty.Signal()
}

// Pop blocks until an item is available and removes it. After Close, the
// remaining items are still returned; Pop fails once the queue is empty.
func (q *BoundedQueue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		var zero T
		return zero, ErrQueueClosed
	}
	return q.popLocked(), nil
}

// TryPop removes the front item without blocking.
func (q *BoundedQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

func (q *BoundedQueue[T]) popLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.notFull.Signal()
	return v
}

// PopContext is Pop that gives up when ctx is done. Cancelling ctx wakes
// all blocked consumers; the ones whose context is still live go back to
// waiting.
func (q *BoundedQueue[T]) PopContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		var zero T
		return zero, ErrQueueClosed
	}
	return q.popLocked(), nil
}

// Len returns the number of queued items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the capacity.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

// Close rejects further pushes and wakes every blocked caller.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
