package ledger

import (
	"errors"
	"fmt"
)

// Query names used in ReadFailure.
const (
	QueryOwnedCount        = "ownedCount"
	QueryTrackedCount      = "trackedCount"
	QueryPendingCounter    = "pendingCounter"
	QueryTrackedList       = "trackedList"
	QueryScanUntracked     = "scanUntracked"
	QueryPrivilegedAddress = "privilegedAddress"
)

// ReadFailure reports a ledger query that failed or timed out.
type ReadFailure struct {
	// Query identifies the failed read.
	Query string

	// Err is the underlying transport or decoding error.
	Err error
}

// Error implements the error interface.
func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read %s: %v", e.Query, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadFailure) Unwrap() error {
	return e.Err
}

// IsReadFailure returns true if err is or wraps a *ReadFailure.
func IsReadFailure(err error) bool {
	var rf *ReadFailure
	return errors.As(err, &rf)
}

// FailedQuery returns the query named by a wrapped *ReadFailure, or "".
func FailedQuery(err error) string {
	var rf *ReadFailure
	if errors.As(err, &rf) {
		return rf.Query
	}
	return ""
}
