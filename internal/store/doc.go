// Package store provides the SQLite-backed run journal.
//
// The journal is an optional durable sink for RunResults:
//   - runs: one row per reconciliation pass, with its canonical digest
//   - steps: the pass's step log, keyed by (run_id, seq)
//
// The worker only appends. Reads serve the history and trace commands; the
// Run Coordinator never consults the journal, so removing it changes no
// reconciliation decision.
//
// # Ordering
//
//   - runs are listed by insertion id, newest first
//   - steps are read ORDER BY seq ASC (the per-run logical clock), never by
//     timestamp
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Digests are computed by ir.RunDigest over RFC 8785 canonical JSON.
package store
