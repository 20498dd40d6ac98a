// Package agent is the capability handle computations use to reach other
// agents.
//
// An Agent owns one event loop, one correlation table of outstanding
// requests keyed by request id, and the inbound side: constraint servicing,
// variable reads, name registration and liveness pings.
//
// Thread-safety model:
//   - Handle methods (RequestConstraint, SendAbort, Forget) run on the loop
//   - RequestValue, Register, Watch and the accessors are safe from any
//     goroutine
//   - inbound constraints are checked on a background worker fed through a
//     bounded queue; everything else they trigger runs on the loop
//   - outbound messages leave through a single sender goroutine, so a slow
//     peer never blocks the loop and per-agent send order is preserved
package agent
