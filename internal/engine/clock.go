package engine

import "sync/atomic"

// Clock hands out request ids for one agent.
//
// Ids are strictly increasing and start at 1, so the zero id never names a
// request. They are unique only within the agent that owns the clock; the
// (agent, id) pair is the network-wide handle.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock whose first id is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first id is start+1.
// Used after restart to continue past ids already in the journal.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next id.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last id handed out without advancing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
