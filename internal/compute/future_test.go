package compute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/testutil"
)

func TestFuture_GetReturnsValueWhenPresent(t *testing.T) {
	f := compute.NewFuture[ir.Expr]()
	require.True(t, f.Resolve(ir.Int(42)))

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), v)
	assert.True(t, f.HasValue())
}

func TestFuture_GetWithoutValue(t *testing.T) {
	f := compute.NewFuture[int]()
	v, err := f.Get()
	assert.ErrorIs(t, err, compute.ErrNoValue)
	assert.Equal(t, 0, v)
	assert.False(t, f.HasValue())
}

func TestFuture_Rejected(t *testing.T) {
	f := compute.NewFuture[int]()
	boom := errors.New("boom")
	require.True(t, f.Reject(boom))
	assert.False(t, f.Resolve(1), "first settle wins")

	_, err := f.Get()
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.HasValue())
}

func TestFuture_Then(t *testing.T) {
	f := compute.NewFuture[string]()
	var got []string
	f.Then(func(v string, _ error) { got = append(got, "before:"+v) })
	f.Resolve("x")
	f.Then(func(v string, _ error) { got = append(got, "after:"+v) })
	assert.Equal(t, []string{"before:x", "after:x"}, got)
}

func TestFuture_Wait(t *testing.T) {
	f := compute.NewFuture[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve(7)
	}()
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	g := compute.NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwait_Completes(t *testing.T) {
	loop := engine.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	ran := false
	err := compute.Await(context.Background(), loop, compute.Func(func() error {
		ran = true
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestAwait_CancelAbortsComputation(t *testing.T) {
	loop := engine.NewLoop()
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = loop.Run(runCtx) }()

	w := compute.NewWait(loop, func() (bool, error) { return false, nil }, time.Hour, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := compute.Await(ctx, loop, w)
	assert.True(t, engine.IsAborted(err))
}

func TestAwait_StoppedLoop(t *testing.T) {
	loop, _ := testutil.NewTestLoop()
	loop.Stop()
	err := compute.Await(context.Background(), loop, compute.Func(func() error { return nil }))
	assert.ErrorIs(t, err, compute.ErrLoopStopped)
}

// stallingLoop accepts tasks but runs only the first, modelling a loop
// that stops with work still queued.
type stallingLoop struct {
	posted int
	done   chan struct{}
}

func (l *stallingLoop) Post(fn func()) bool {
	l.posted++
	if l.posted == 1 {
		fn()
	}
	return true
}

func (l *stallingLoop) Done() <-chan struct{} { return l.done }

// silent never completes, and accepts aborts it never answers.
type silent struct{ aborts int }

func (s *silent) Compute(cb compute.Callback) {}

func (s *silent) Abort() bool {
	s.aborts++
	return true
}

func TestAwait_LoopStopsWithAbortQueued(t *testing.T) {
	loop := &stallingLoop{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- compute.Await(ctx, loop, &silent{}) }()

	cancel()
	time.Sleep(10 * time.Millisecond)
	close(loop.done)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Await blocked on an abort the stopped loop never ran")
	}
}

func TestAwait_LoopStopsAfterUnansweredAbort(t *testing.T) {
	loop := engine.NewLoop()
	runCtx, stop := context.WithCancel(context.Background())
	go func() { _ = loop.Run(runCtx) }()

	c := &silent{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- compute.Await(ctx, loop, c) }()

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("Await blocked after the loop stopped")
	}
}

func TestAwait_LoopStopsBeforeCompletion(t *testing.T) {
	loop := &stallingLoop{done: make(chan struct{})}
	errc := make(chan error, 1)
	go func() { errc <- compute.Await(context.Background(), loop, &silent{}) }()

	close(loop.done)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, compute.ErrLoopStopped)
	case <-time.After(time.Second):
		t.Fatal("Await blocked on a stopped loop")
	}
}
