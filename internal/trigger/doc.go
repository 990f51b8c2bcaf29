// Package trigger exposes the reconciliation runner to its callers: a
// fixed-interval scheduler, an on-demand entry point and a read-only status
// query, plus the HTTP surface that fronts the last two.
//
// Every finished run is logged, recorded in metrics and, when a journal is
// configured, appended to it. None of these sinks feed back into decisions.
package trigger
