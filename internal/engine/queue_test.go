package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, q.Enqueue(func() { order = append(order, i) }))
	}
	assert.Equal(t, 3, q.Len())

	for {
		fn, ok := q.TryDequeue()
		if !ok {
			break
		}
		fn()
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTaskQueue_TryDequeueEmpty(t *testing.T) {
	q := newTaskQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestTaskQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newTaskQueue()
	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	q.Close()
	q.Close() // idempotent

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	assert.False(t, q.Enqueue(func() {}))
}
