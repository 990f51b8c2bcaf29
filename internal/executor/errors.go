package executor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyBatch is returned by RecoverUntracked for an empty id list. Nothing
// is submitted.
var ErrEmptyBatch = errors.New("recover batch is empty")

// WriteSubmissionFailure reports a write the ledger never accepted.
type WriteSubmissionFailure struct {
	Action string
	Err    error
}

// Error implements the error interface.
func (e *WriteSubmissionFailure) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteSubmissionFailure) Unwrap() error {
	return e.Err
}

// WriteExecutionFailure reports a submitted write that reverted or was not
// confirmed within the confirmation timeout.
type WriteExecutionFailure struct {
	Action string
	TxHash common.Hash
	Status WriteStatus
	Err    error
}

// Error implements the error interface.
func (e *WriteExecutionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (tx=%s): %v", e.Action, e.Status, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s %s (tx=%s)", e.Action, e.Status, e.TxHash.Hex())
}

// Unwrap returns the underlying error.
func (e *WriteExecutionFailure) Unwrap() error {
	return e.Err
}

// IsSubmissionFailure returns true if err is or wraps a *WriteSubmissionFailure.
func IsSubmissionFailure(err error) bool {
	var sf *WriteSubmissionFailure
	return errors.As(err, &sf)
}

// IsExecutionFailure returns true if err is or wraps a *WriteExecutionFailure.
func IsExecutionFailure(err error) bool {
	var ef *WriteExecutionFailure
	return errors.As(err, &ef)
}
