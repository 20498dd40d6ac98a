// Package store provides the SQLite journal of a running agent.
//
// The journal is append-only and holds:
//   - Messages: every message an agent sent or received, with its request
//     identifier, for tracing a request across its lifetime
//   - Facts: facts added at runtime, per logic context, reloaded on start
//   - Runs: one row per finished recipe execution
//
// # Ordering
//
// All ordering uses the seq column (insertion order), never timestamps.
// Every query ends with ORDER BY seq ASC so results are deterministic.
//
// # Versions
//
// PRAGMA user_version counts applied migrations. The meta table records the
// IR version the stored terms were encoded with; Open refuses a journal
// from another IR version with ErrIRVersion. The database runs in WAL mode
// with a 5 second busy timeout so agents sharing a file wait on each other.
//
// Fact identity is ir.FactHash: canonical JSON and SHA-256 with domain
// separation, so re-adding a stored fact is a no-op.
package store
