// Package executor performs the two corrective ledger writes.
//
// Each write is submitted, then its receipt is awaited under the confirmation
// timeout. A revert, or a submission the ledger rejects, is followed by a
// re-read: if the ledger already reflects the correction (another run got
// there first), the write counts as already_applied, which is success. A
// submission rejected with ledger.ErrWriteReverted is an execution failure,
// not a submission failure.
//
// Writes are signed by whatever identity the ledger.Client was built with;
// the executor never selects a signer.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
)

// DefaultConfirmTimeout bounds the wait for a receipt.
const DefaultConfirmTimeout = 60 * time.Second

// DefaultPollInterval is the receipt polling period.
const DefaultPollInterval = time.Second

// WriteStatus is the outcome of one write.
type WriteStatus string

const (
	StatusConfirmed           WriteStatus = "confirmed"
	StatusAlreadyApplied      WriteStatus = "already_applied"
	StatusSubmissionFailed    WriteStatus = "submission_failed"
	StatusExecutionReverted   WriteStatus = "execution_reverted"
	StatusConfirmationTimeout WriteStatus = "confirmation_timeout"
	StatusCanceled            WriteStatus = "canceled"
)

// WriteResult describes one attempted write.
type WriteResult struct {
	Action string
	IDs    []ir.AssetID
	Status WriteStatus

	// TxHash is set once the ledger accepted the submission. It is kept on
	// cancel so a later run can verify the transaction.
	TxHash common.Hash

	Block uint64
	Err   error
}

// Succeeded reports whether the correction is in effect.
func (r WriteResult) Succeeded() bool {
	return r.Status == StatusConfirmed || r.Status == StatusAlreadyApplied
}

// Submitted reports whether a transaction hash was obtained.
func (r WriteResult) Submitted() bool {
	return r.TxHash != (common.Hash{})
}

// Executor submits corrective writes and awaits their confirmation.
type Executor struct {
	client         ledger.Client
	reader         *ledger.Reader
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfirmTimeout overrides DefaultConfirmTimeout.
func WithConfirmTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.confirmTimeout = d
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor writing through reader's client. The reader is also
// used for the already-applied re-read after a revert.
func New(reader *ledger.Reader, opts ...Option) *Executor {
	e := &Executor{
		client:         reader.Client(),
		reader:         reader,
		confirmTimeout: DefaultConfirmTimeout,
		pollInterval:   DefaultPollInterval,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecoverUntracked adds ids to the tracked list in a single batched write.
// The returned error is nil exactly when the result Succeeded.
func (e *Executor) RecoverUntracked(ctx context.Context, ids []ir.AssetID) (WriteResult, error) {
	if len(ids) == 0 {
		return WriteResult{Action: ir.ActionRecoverBatch}, ErrEmptyBatch
	}
	batch := slices.Clone(ids)
	return e.write(ctx, ir.ActionRecoverBatch, batch,
		func(ctx context.Context) (common.Hash, error) {
			return e.client.SubmitRecoverBatch(ctx, batch)
		},
		func(ctx context.Context) (bool, error) {
			tracked, err := e.reader.TrackedList(ctx)
			if err != nil {
				return false, err
			}
			for _, id := range batch {
				if !slices.Contains(tracked, id) {
					return false, nil
				}
			}
			return true, nil
		},
	)
}

// ResetPendingCounter zeroes the pending operation counter.
func (e *Executor) ResetPendingCounter(ctx context.Context) (WriteResult, error) {
	return e.write(ctx, ir.ActionResetPending, nil,
		e.client.SubmitResetPendingCounter,
		func(ctx context.Context) (bool, error) {
			n, err := e.reader.PendingCounter(ctx)
			return n == 0, err
		},
	)
}

func (e *Executor) write(
	ctx context.Context,
	action string,
	ids []ir.AssetID,
	submit func(context.Context) (common.Hash, error),
	applied func(context.Context) (bool, error),
) (WriteResult, error) {
	res := WriteResult{Action: action, IDs: ids}
	logger := e.logger.With("action", action)

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusCanceled, err
		return res, err
	}

	hash, err := submit(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Status, res.Err = StatusCanceled, ctxErr
			return res, ctxErr
		}
		// A rejected write may only mean a concurrent run got there first.
		if ok, rerr := applied(ctx); rerr == nil && ok {
			res.Status = StatusAlreadyApplied
			logger.Info("write rejected but correction already applied", "error", err)
			return res, nil
		}
		if errors.Is(err, ledger.ErrWriteReverted) {
			res.Status = StatusExecutionReverted
			res.Err = &WriteExecutionFailure{Action: action, Status: res.Status, Err: err}
			logger.Warn("write reverted before broadcast", "error", err)
			return res, res.Err
		}
		res.Status = StatusSubmissionFailed
		res.Err = &WriteSubmissionFailure{Action: action, Err: err}
		logger.Warn("write submission failed", "error", err)
		return res, res.Err
	}
	res.TxHash = hash
	logger.Info("write submitted", "tx", hash.Hex(), "ids", len(ids))

	receipt, err := e.await(ctx, hash)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Only the wait is abandoned; the hash stays in the result.
		res.Status, res.Err = StatusCanceled, ctx.Err()
		logger.Warn("write wait canceled", "tx", hash.Hex())
		return res, res.Err
	default:
		res.Status = StatusConfirmationTimeout
		res.Err = &WriteExecutionFailure{Action: action, TxHash: hash, Status: res.Status, Err: err}
		logger.Warn("write not confirmed", "tx", hash.Hex(), "timeout", e.confirmTimeout)
		return res, res.Err
	}

	res.Block = receipt.BlockNumber
	if receipt.Succeeded {
		res.Status = StatusConfirmed
		logger.Info("write confirmed", "tx", hash.Hex(), "block", receipt.BlockNumber)
		return res, nil
	}

	ok, rerr := applied(ctx)
	if rerr == nil && ok {
		res.Status = StatusAlreadyApplied
		logger.Info("write reverted but correction already applied", "tx", hash.Hex())
		return res, nil
	}

	res.Status = StatusExecutionReverted
	res.Err = &WriteExecutionFailure{Action: action, TxHash: hash, Status: res.Status, Err: rerr}
	logger.Warn("write reverted", "tx", hash.Hex(), "block", receipt.BlockNumber)
	return res, res.Err
}

// await polls for the receipt of hash until it is available, the
// confirmation timeout expires or ctx is done.
func (e *Executor) await(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		r, err := e.client.Receipt(wctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ledger.ErrReceiptPending) {
			lastErr = err
			e.logger.Debug("receipt poll failed", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-wctx.Done():
			if lastErr != nil {
				return ledger.Receipt{}, fmt.Errorf("confirmation timeout after %s: %w", e.confirmTimeout, lastErr)
			}
			return ledger.Receipt{}, fmt.Errorf("confirmation timeout after %s: %w", e.confirmTimeout, wctx.Err())
		case <-ticker.C:
		}
	}
}
