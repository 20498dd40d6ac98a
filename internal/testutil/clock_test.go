package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := NewManualScheduler()
	var order []string
	s.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	s.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	s.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })

	assert.Equal(t, 2, s.Advance(20*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 20*time.Millisecond, s.Now())
	assert.Equal(t, 1, s.Pending())

	s.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManualScheduler_StopPreventsFire(t *testing.T) {
	s := NewManualScheduler()
	fired := false
	timer := s.AfterFunc(time.Millisecond, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	s.Advance(time.Second)
	assert.False(t, fired)
}

func TestManualScheduler_TimerChainsWithinWindow(t *testing.T) {
	s := NewManualScheduler()
	n := 0
	var tick func()
	tick = func() {
		n++
		s.AfterFunc(10*time.Millisecond, tick)
	}
	s.AfterFunc(10*time.Millisecond, tick)

	assert.Equal(t, 5, s.Advance(50*time.Millisecond))
	assert.Equal(t, 5, n)
}

func TestNewTestLoop(t *testing.T) {
	loop, s := NewTestLoop()
	fired := false
	loop.AfterFunc(time.Second, func() { fired = true })

	s.Advance(time.Second)
	assert.False(t, fired, "timer posts to the loop")
	loop.Drain()
	assert.True(t, fired)
}
