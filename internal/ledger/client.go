package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultsync/internal/ir"
)

// ErrReceiptPending is returned by Client.Receipt while a submitted
// transaction has not been included yet.
var ErrReceiptPending = errors.New("ledger: receipt pending")

// ErrWriteReverted is wrapped by Submit methods when the ledger rejects a
// write before broadcast because executing it would revert. No transaction
// exists for such a write.
var ErrWriteReverted = errors.New("ledger: write reverted before broadcast")

// Receipt is the inclusion result of a submitted write.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64

	// Succeeded is false when the transaction was included but reverted.
	Succeeded bool
}

// Client is the on-chain surface used by the worker.
//
// Implementations must be safe for concurrent use: Reader.Snapshot issues
// three reads in parallel.
type Client interface {
	// OwnedCount returns the number of assets the asset ledger assigns to holder.
	OwnedCount(ctx context.Context, holder common.Address) (uint64, error)

	// TrackedCount returns the length of the bookkeeping tracked list.
	TrackedCount(ctx context.Context) (uint64, error)

	// PendingCounter returns the bookkeeping in-flight operation counter.
	PendingCounter(ctx context.Context) (uint64, error)

	// TrackedList returns the tracked asset ids in list order.
	TrackedList(ctx context.Context) ([]ir.AssetID, error)

	// ScanUntracked returns the ids in [start, end] held by the bookkeeping
	// contract but absent from its tracked list, in ascending id order.
	ScanUntracked(ctx context.Context, start, end ir.AssetID) ([]ir.AssetID, error)

	// PrivilegedAddress returns the bookkeeping owner allowed to write.
	PrivilegedAddress(ctx context.Context) (common.Address, error)

	// SubmitRecoverBatch submits the batched recovery write.
	SubmitRecoverBatch(ctx context.Context, ids []ir.AssetID) (common.Hash, error)

	// SubmitResetPendingCounter submits the pending counter reset.
	SubmitResetPendingCounter(ctx context.Context) (common.Hash, error)

	// Receipt returns the receipt for tx, or ErrReceiptPending.
	Receipt(ctx context.Context, tx common.Hash) (Receipt, error)
}
