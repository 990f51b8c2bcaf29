// Package engine implements the Run Coordinator.
//
// A run walks one state machine:
//
//	Idle -> Reading -> Detecting -> Done
//	                            \-> Authorizing -> Executing -> Verifying -> Done
//
// Failed is reachable from every state except Done.
//
// Each run is self-contained. Custody state is read fresh, the plan is built
// and discarded, and the RunResult is handed back to the caller. Nothing is
// cached between runs, so a crashed or canceled run leaves no state behind
// and the next run re-derives everything from the ledger.
//
// Failure classes:
//
// Fatal (state Failed, outcome error): any read failure, an invariant
// violation, a missing credential, an unauthorized operator, cancellation.
// No write is attempted after a fatal failure and none is retried.
//
// Partial (state Done, outcome partial_failure): a write that was submitted
// or attempted and did not take effect, a raised warning, or custody still
// out of sync after verification.
//
// Write ordering: recoverBatch always precedes the pending re-check and
// resetPendingCounter, and the reset is skipped unless recovery succeeded.
//
// Step ordering uses the per-run logical Clock. Wall time is recorded for
// operators but never used to order steps.
package engine
