package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vaultsync/internal/ir"
)

// DefaultReadTimeout bounds each individual ledger read.
const DefaultReadTimeout = 10 * time.Second

// Reader issues bounded reads against a Client.
type Reader struct {
	client  Client
	holder  common.Address
	timeout time.Duration
	logger  *slog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReadTimeout overrides DefaultReadTimeout. Non-positive values are ignored.
func WithReadTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader creates a Reader for the custody held by holder, normally the
// bookkeeping contract's own address.
func NewReader(client Client, holder common.Address, opts ...ReaderOption) *Reader {
	r := &Reader{
		client:  client,
		holder:  holder,
		timeout: DefaultReadTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the underlying ledger client.
func (r *Reader) Client() Client {
	return r.client
}

// Holder returns the custody holder address.
func (r *Reader) Holder() common.Address {
	return r.holder
}

// Timeout returns the per-read bound.
func (r *Reader) Timeout() time.Duration {
	return r.timeout
}

// read runs fn under the read timeout and wraps any error as a ReadFailure.
func read[T any](ctx context.Context, r *Reader, query string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	if err != nil {
		var zero T
		r.logger.Debug("ledger read failed", "query", query, "error", err, "elapsed", time.Since(start))
		return zero, &ReadFailure{Query: query, Err: err}
	}
	r.logger.Debug("ledger read", "query", query, "elapsed", time.Since(start))
	return v, nil
}

// OwnedCount reads the number of assets held by the custody holder.
func (r *Reader) OwnedCount(ctx context.Context) (uint64, error) {
	return read(ctx, r, QueryOwnedCount, func(ctx context.Context) (uint64, error) {
		return r.client.OwnedCount(ctx, r.holder)
	})
}

// TrackedCount reads the bookkeeping tracked count.
func (r *Reader) TrackedCount(ctx context.Context) (uint64, error) {
	return read(ctx, r, QueryTrackedCount, r.client.TrackedCount)
}

// PendingCounter reads the bookkeeping pending counter.
func (r *Reader) PendingCounter(ctx context.Context) (uint64, error) {
	return read(ctx, r, QueryPendingCounter, r.client.PendingCounter)
}

// TrackedList reads the tracked ids. The result is never nil.
func (r *Reader) TrackedList(ctx context.Context) ([]ir.AssetID, error) {
	ids, err := read(ctx, r, QueryTrackedList, r.client.TrackedList)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []ir.AssetID{}
	}
	return ids, nil
}

// ScanUntracked runs the bounded scan over window. The result is never nil.
func (r *Reader) ScanUntracked(ctx context.Context, window ir.ScanWindow) ([]ir.AssetID, error) {
	ids, err := read(ctx, r, QueryScanUntracked, func(ctx context.Context) ([]ir.AssetID, error) {
		return r.client.ScanUntracked(ctx, window.Start, window.End)
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []ir.AssetID{}
	}
	return ids, nil
}

// PrivilegedAddress reads the bookkeeping owner.
func (r *Reader) PrivilegedAddress(ctx context.Context) (common.Address, error) {
	return read(ctx, r, QueryPrivilegedAddress, r.client.PrivilegedAddress)
}

// Snapshot reads owned count, tracked count and pending counter
// concurrently and waits for all three. The first failure cancels the
// remaining reads and is returned.
func (r *Reader) Snapshot(ctx context.Context) (ir.CustodyState, error) {
	var state ir.CustodyState

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.OwnedCount(gctx)
		state.ActualBalance = v
		return err
	})
	g.Go(func() error {
		v, err := r.TrackedCount(gctx)
		state.TrackedCount = v
		return err
	})
	g.Go(func() error {
		v, err := r.PendingCounter(gctx)
		state.PendingCounter = v
		return err
	})

	if err := g.Wait(); err != nil {
		return ir.CustodyState{}, err
	}
	return state, nil
}
