// Package simledger is a deterministic in-memory ledger.
//
// It models the asset ledger and the bookkeeping contract closely enough to
// reproduce drift: assets can be credited to the holder without being added
// to the tracked list, and pending operations can be left unresolved. Faults
// can be injected per query and per write so every failure path of a run can
// be exercised without a chain.
package simledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
)

// Write methods as recorded in Calls.
const (
	MethodRecoverBatch = "recoverBatch"
	MethodResetPending = "resetPendingCounter"
)

// Revert reasons attached to reverted transactions.
const (
	RevertUnauthorized = "Unauthorized"
	RevertNotHeld      = "NotHeld"
	RevertTracked      = "AlreadyTracked"
	RevertFull         = "VaultFull"
	RevertForced       = "Forced"
)

// ErrUnknownTx is returned by Receipt for a hash the ledger never issued.
var ErrUnknownTx = errors.New("simledger: unknown transaction")

// State is the initial ledger contents.
type State struct {
	// Owner is the bookkeeping contract's privileged address.
	Owner common.Address

	// Sender is the address writes are signed as.
	Sender common.Address

	// Held lists the ids the asset ledger assigns to the holder.
	Held []ir.AssetID

	// Tracked lists the bookkeeping tracked ids, in list order.
	Tracked []ir.AssetID

	// Pending is the initial pending counter.
	Pending uint64

	// Capacity caps the tracked list. Zero means unbounded.
	Capacity int
}

// Call records one Client invocation.
type Call struct {
	Method string
	IDs    []ir.AssetID
}

type tx struct {
	hash     common.Hash
	method   string
	reverted bool
	reason   string
	polls    int
	block    uint64
}

// Ledger is a simulated Client. It is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	owner    common.Address
	sender   common.Address
	held     map[ir.AssetID]bool
	tracked  []ir.AssetID
	pending  uint64
	capacity int

	readErrs      map[string]error
	submitErrs    map[string]error
	forcedReverts map[string]int
	concurrent    map[string]int
	confirmAfter  int
	neverConfirm  bool
	rejectReverts bool

	txs   map[common.Hash]*tx
	nonce uint64
	block uint64
	calls []Call
}

// New creates a simulated ledger with the given contents.
func New(s State) *Ledger {
	l := &Ledger{
		owner:         s.Owner,
		sender:        s.Sender,
		held:          make(map[ir.AssetID]bool),
		tracked:       slices.Clone(s.Tracked),
		pending:       s.Pending,
		capacity:      s.Capacity,
		readErrs:      make(map[string]error),
		submitErrs:    make(map[string]error),
		forcedReverts: make(map[string]int),
		concurrent:    make(map[string]int),
		txs:           make(map[common.Hash]*tx),
	}
	for _, id := range s.Held {
		l.held[id] = true
	}
	if l.tracked == nil {
		l.tracked = []ir.AssetID{}
	}
	return l
}

var _ ledger.Client = (*Ledger)(nil)

// FailRead makes every subsequent read of query fail with err.
// A nil err clears the fault.
func (l *Ledger) FailRead(query string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.readErrs, query)
		return
	}
	l.readErrs[query] = err
}

// FailSubmit makes every subsequent submission of method fail with err.
func (l *Ledger) FailSubmit(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.submitErrs, method)
		return
	}
	l.submitErrs[method] = err
}

// RevertNext forces the next n submissions of method to revert.
func (l *Ledger) RevertNext(method string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forcedReverts[method] += n
}

// ApplyConcurrently simulates another writer landing the same correction just
// before the next n submissions of method, so ours reverts on stale input.
func (l *Ledger) ApplyConcurrently(method string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.concurrent[method] += n
}

// ConfirmAfter delays receipts until they have been polled n times.
func (l *Ledger) ConfirmAfter(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmAfter = n
}

// NeverConfirm keeps every receipt pending.
func (l *Ledger) NeverConfirm(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.neverConfirm = v
}

// RejectReverts makes writes that would revert fail at submission with
// ledger.ErrWriteReverted instead of producing a reverted receipt, the way a
// node does when gas estimation reverts.
func (l *Ledger) RejectReverts(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectReverts = v
}

// Credit assigns id to the holder on the asset ledger without touching the
// tracked list. This is how drift arises.
func (l *Ledger) Credit(ids ...ir.AssetID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.held[id] = true
	}
}

// SetSender changes the address writes are signed as.
func (l *Ledger) SetSender(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sender = addr
}

// Calls returns every recorded call in order.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Submissions returns the recorded write calls in order.
func (l *Ledger) Submissions() []Call {
	out := []Call{}
	for _, c := range l.Calls() {
		if c.Method == MethodRecoverBatch || c.Method == MethodResetPending {
			out = append(out, c)
		}
	}
	return out
}

// Custody returns the current ledger state.
func (l *Ledger) Custody() ir.CustodyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ir.CustodyState{
		ActualBalance:  uint64(len(l.held)),
		TrackedCount:   uint64(len(l.tracked)),
		PendingCounter: l.pending,
	}
}

// Tracked returns a copy of the tracked list.
func (l *Ledger) Tracked() []ir.AssetID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.tracked)
}

func (l *Ledger) record(method string, ids []ir.AssetID) {
	l.calls = append(l.calls, Call{Method: method, IDs: slices.Clone(ids)})
}

func (l *Ledger) readErr(ctx context.Context, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.readErrs[query]
}

// OwnedCount implements ledger.Client. Holder is not checked: the simulation
// models a single custody holder.
func (l *Ledger) OwnedCount(ctx context.Context, _ common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryOwnedCount, nil)
	if err := l.readErr(ctx, ledger.QueryOwnedCount); err != nil {
		return 0, err
	}
	return uint64(len(l.held)), nil
}

// TrackedCount implements ledger.Client.
func (l *Ledger) TrackedCount(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryTrackedCount, nil)
	if err := l.readErr(ctx, ledger.QueryTrackedCount); err != nil {
		return 0, err
	}
	return uint64(len(l.tracked)), nil
}

// PendingCounter implements ledger.Client.
func (l *Ledger) PendingCounter(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryPendingCounter, nil)
	if err := l.readErr(ctx, ledger.QueryPendingCounter); err != nil {
		return 0, err
	}
	return l.pending, nil
}

// TrackedList implements ledger.Client.
func (l *Ledger) TrackedList(ctx context.Context) ([]ir.AssetID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryTrackedList, nil)
	if err := l.readErr(ctx, ledger.QueryTrackedList); err != nil {
		return nil, err
	}
	return slices.Clone(l.tracked), nil
}

// ScanUntracked implements ledger.Client.
func (l *Ledger) ScanUntracked(ctx context.Context, start, end ir.AssetID) ([]ir.AssetID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryScanUntracked, nil)
	if err := l.readErr(ctx, ledger.QueryScanUntracked); err != nil {
		return nil, err
	}
	out := []ir.AssetID{}
	for id := range l.held {
		if id >= start && id <= end && !slices.Contains(l.tracked, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// PrivilegedAddress implements ledger.Client.
func (l *Ledger) PrivilegedAddress(ctx context.Context) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ledger.QueryPrivilegedAddress, nil)
	if err := l.readErr(ctx, ledger.QueryPrivilegedAddress); err != nil {
		return common.Address{}, err
	}
	return l.owner, nil
}

// SubmitRecoverBatch implements ledger.Client. The whole batch reverts if
// any id is not held or is already tracked.
func (l *Ledger) SubmitRecoverBatch(ctx context.Context, ids []ir.AssetID) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(MethodRecoverBatch, ids)
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if err := l.submitErrs[MethodRecoverBatch]; err != nil {
		return common.Hash{}, err
	}
	if l.takeConcurrent(MethodRecoverBatch) {
		l.applyRecover(ids)
	}

	var reason string
	switch {
	case l.takeForcedRevert(MethodRecoverBatch):
		reason = RevertForced
	case l.sender != l.owner:
		reason = RevertUnauthorized
	default:
		reason = l.checkRecover(ids)
	}
	if reason != "" && l.rejectReverts {
		return common.Hash{}, rejected(reason)
	}

	t := l.newTx(MethodRecoverBatch)
	if reason != "" {
		t.reverted, t.reason = true, reason
	} else {
		l.applyRecover(ids)
	}
	return t.hash, nil
}

// SubmitResetPendingCounter implements ledger.Client.
func (l *Ledger) SubmitResetPendingCounter(ctx context.Context) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(MethodResetPending, nil)
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if err := l.submitErrs[MethodResetPending]; err != nil {
		return common.Hash{}, err
	}
	if l.takeConcurrent(MethodResetPending) {
		l.pending = 0
	}

	var reason string
	switch {
	case l.takeForcedRevert(MethodResetPending):
		reason = RevertForced
	case l.sender != l.owner:
		reason = RevertUnauthorized
	}
	if reason != "" && l.rejectReverts {
		return common.Hash{}, rejected(reason)
	}

	t := l.newTx(MethodResetPending)
	if reason != "" {
		t.reverted, t.reason = true, reason
	} else {
		l.pending = 0
	}
	return t.hash, nil
}

func rejected(reason string) error {
	return fmt.Errorf("%w: execution reverted: %s", ledger.ErrWriteReverted, reason)
}

// Receipt implements ledger.Client.
func (l *Ledger) Receipt(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	t, ok := l.txs[hash]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ErrUnknownTx, hash.Hex())
	}
	t.polls++
	if l.neverConfirm || t.polls <= l.confirmAfter {
		return ledger.Receipt{}, ledger.ErrReceiptPending
	}
	return ledger.Receipt{TxHash: t.hash, BlockNumber: t.block, Succeeded: !t.reverted}, nil
}

// RevertReason returns the recorded revert reason of hash, or "".
func (l *Ledger) RevertReason(hash common.Hash) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.txs[hash]; ok {
		return t.reason
	}
	return ""
}

func (l *Ledger) checkRecover(ids []ir.AssetID) string {
	for _, id := range ids {
		if !l.held[id] {
			return RevertNotHeld
		}
		if slices.Contains(l.tracked, id) {
			return RevertTracked
		}
	}
	if l.capacity > 0 && len(l.tracked)+len(ids) > l.capacity {
		return RevertFull
	}
	return ""
}

func (l *Ledger) applyRecover(ids []ir.AssetID) {
	for _, id := range ids {
		if l.held[id] && !slices.Contains(l.tracked, id) {
			l.tracked = append(l.tracked, id)
		}
	}
}

func (l *Ledger) takeForcedRevert(method string) bool {
	if l.forcedReverts[method] > 0 {
		l.forcedReverts[method]--
		return true
	}
	return false
}

func (l *Ledger) takeConcurrent(method string) bool {
	if l.concurrent[method] > 0 {
		l.concurrent[method]--
		return true
	}
	return false
}

// newTx issues a deterministic hash derived from the ledger nonce.
func (l *Ledger) newTx(method string) *tx {
	l.nonce++
	l.block++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.nonce)
	t := &tx{
		hash:   crypto.Keccak256Hash([]byte(method), buf[:]),
		method: method,
		block:  l.block,
	}
	l.txs[t.hash] = t
	return t
}
