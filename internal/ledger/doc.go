// Package ledger reads custody state from the two on-chain ledgers.
//
// The asset ledger owns collectibles and answers ownership counts. The
// bookkeeping contract keeps the tracked list, the pending operation counter
// and the privileged owner address, and exposes the two corrective writes.
//
// Client is the explicitly constructed ledger dependency. It is built once at
// startup and passed to the Reader and the executor; nothing in this module
// holds a process-wide connection.
//
// Every read is bounded by the Reader's timeout. A failed read surfaces as a
// *ReadFailure naming the query and is never retried here.
package ledger
