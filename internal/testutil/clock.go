package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/ability/internal/engine"
)

// ManualScheduler is an engine.Scheduler whose time only moves when the
// test calls Advance. Timers fire in deadline order, ties in creation order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Timer functions run on the goroutine that calls Advance.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	s        *ManualScheduler
	deadline time.Duration
	seq      int
	f        func()
	stopped  bool
	fired    bool
}

// NewManualScheduler creates a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc implements engine.Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) engine.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, deadline: s.now + d, seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d and fires every timer that became due,
// including timers created by fired timers within the window.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	fired := 0
	for {
		s.mu.Lock()
		t := s.nextDueLocked(target)
		if t == nil {
			s.now = target
			s.mu.Unlock()
			return fired
		}
		s.now = t.deadline
		t.fired = true
		s.mu.Unlock()

		t.f()
		fired++
	}
}

func (s *ManualScheduler) nextDueLocked(target time.Duration) *manualTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].deadline != s.timers[j].deadline {
			return s.timers[i].deadline < s.timers[j].deadline
		}
		return s.timers[i].seq < s.timers[j].seq
	})
	if len(s.timers) == 0 || s.timers[0].deadline > target {
		return nil
	}
	return s.timers[0]
}

// Now returns the elapsed manual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of live timers.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NewTestLoop returns a loop driven by a manual scheduler. Tests post work,
// then call Drain and Advance to run it deterministically.
func NewTestLoop() (*engine.Loop, *ManualScheduler) {
	s := NewManualScheduler()
	return engine.NewLoop(engine.WithScheduler(s)), s
}
