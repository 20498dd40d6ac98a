// Package engine implements the per-agent runtime plumbing: a single
// goroutine event loop, timers that post back into it, the request-id
// clock, run tokens, the bounded constraint queue and the runtime error
// taxonomy.
//
// ARCHITECTURE:
//
// Single-Goroutine Event Loop:
// Every callback of an agent runs on its Loop, one at a time, in FIFO
// order. Network reads, timers and workers never touch agent state
// directly; they Post a closure instead. This gives:
// - No data races on agent, recipe or computation state
// - Callbacks that may freely re-enter the loop by posting more work
// - A loop that never blocks: waiting is "schedule a continuation"
//
// Bounded Queue:
// BoundedQueue is the one structure shared across goroutines.
// The transport side pushes inbound constraint requests into it and a
// background worker pops them with blocking semantics.
//
// CRITICAL PATTERNS:
//
// Request IDs come from Clock.Next() and are unique only within one agent.
// The (agent, id) pair identifies a request across the network.
//
// Timers fire on the loop. Stopping a Timer guarantees its function will
// not run, even if the underlying timer already fired.
package engine
