// Package ethrpc implements ledger.Client over Ethereum JSON-RPC.
package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
)

// ErrNoSigner is returned by write methods when no operator key was supplied.
var ErrNoSigner = errors.New("ethrpc: no operator key configured")

// Config holds connection parameters.
type Config struct {
	// URL is the JSON-RPC endpoint.
	URL string

	// Bookkeeping is the bookkeeping contract address. It is also the custody
	// holder on the asset ledger.
	Bookkeeping common.Address

	// AssetLedger is the ERC-721 contract address.
	AssetLedger common.Address

	// Key signs writes. Nil makes the client read-only.
	Key *ecdsa.PrivateKey
}

// Client talks to both contracts through one RPC connection.
type Client struct {
	eth         *ethclient.Client
	bookkeeping *bind.BoundContract
	assets      *bind.BoundContract
	auth        *bind.TransactOpts

	bookkeepingAddr common.Address
	bookkeepingABI  abi.ABI
}

var _ ledger.Client = (*Client)(nil)

// Dial connects to cfg.URL and binds both contracts.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ethrpc: empty RPC URL")
	}
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c, err := newClient(ctx, eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

func newClient(ctx context.Context, eth *ethclient.Client, cfg Config) (*Client, error) {
	bkABI, err := abi.JSON(strings.NewReader(bookkeepingABI))
	if err != nil {
		return nil, fmt.Errorf("parse bookkeeping ABI: %w", err)
	}
	assetABI, err := abi.JSON(strings.NewReader(assetLedgerABI))
	if err != nil {
		return nil, fmt.Errorf("parse asset ledger ABI: %w", err)
	}

	c := &Client{
		eth:             eth,
		bookkeeping:     bind.NewBoundContract(cfg.Bookkeeping, bkABI, eth, eth, eth),
		assets:          bind.NewBoundContract(cfg.AssetLedger, assetABI, eth, eth, eth),
		bookkeepingAddr: cfg.Bookkeeping,
		bookkeepingABI:  bkABI,
	}

	if cfg.Key != nil {
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(cfg.Key, chainID)
		if err != nil {
			return nil, fmt.Errorf("build transactor: %w", err)
		}
		c.auth = auth
	}
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, params ...any) ([]any, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *Client) callUint(ctx context.Context, contract *bind.BoundContract, method string, params ...any) (uint64, error) {
	out, err := c.call(ctx, contract, method, params...)
	if err != nil {
		return 0, err
	}
	v := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: value %s overflows uint64", method, v)
	}
	return v.Uint64(), nil
}

func (c *Client) callIDs(ctx context.Context, method string, params ...any) ([]ir.AssetID, error) {
	out, err := c.call(ctx, c.bookkeeping, method, params...)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]ir.AssetID, 0, len(raw))
	for _, v := range raw {
		if !v.IsUint64() {
			return nil, fmt.Errorf("%s: id %s overflows uint64", method, v)
		}
		ids = append(ids, ir.AssetID(v.Uint64()))
	}
	return ids, nil
}

// OwnedCount implements ledger.Client.
func (c *Client) OwnedCount(ctx context.Context, holder common.Address) (uint64, error) {
	return c.callUint(ctx, c.assets, methodBalanceOf, holder)
}

// TrackedCount implements ledger.Client.
func (c *Client) TrackedCount(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, c.bookkeeping, methodTrackedCount)
}

// PendingCounter implements ledger.Client.
func (c *Client) PendingCounter(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, c.bookkeeping, methodPending)
}

// TrackedList implements ledger.Client.
func (c *Client) TrackedList(ctx context.Context) ([]ir.AssetID, error) {
	return c.callIDs(ctx, methodTrackedList)
}

// ScanUntracked implements ledger.Client.
func (c *Client) ScanUntracked(ctx context.Context, start, end ir.AssetID) ([]ir.AssetID, error) {
	return c.callIDs(ctx, methodScanUntracked, toBig(start), toBig(end))
}

// PrivilegedAddress implements ledger.Client.
func (c *Client) PrivilegedAddress(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, c.bookkeeping, methodOwner)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// SubmitRecoverBatch implements ledger.Client.
func (c *Client) SubmitRecoverBatch(ctx context.Context, ids []ir.AssetID) (common.Hash, error) {
	args := make([]*big.Int, len(ids))
	for i, id := range ids {
		args[i] = toBig(id)
	}
	return c.transact(ctx, methodRecoverBatch, args)
}

// SubmitResetPendingCounter implements ledger.Client.
func (c *Client) SubmitResetPendingCounter(ctx context.Context) (common.Hash, error) {
	return c.transact(ctx, methodResetPending)
}

// transact estimates gas itself so that a write the node refuses because it
// would revert is reported as ledger.ErrWriteReverted, not as a transport
// failure.
func (c *Client) transact(ctx context.Context, method string, params ...any) (common.Hash, error) {
	if c.auth == nil {
		return common.Hash{}, ErrNoSigner
	}
	input, err := c.bookkeepingABI.Pack(method, params...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	opts := *c.auth
	opts.Context = ctx
	to := c.bookkeepingAddr
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: opts.From, To: &to, Data: input})
	if err != nil {
		if isRevert(err) {
			return common.Hash{}, fmt.Errorf("%w: %s: %v", ledger.ErrWriteReverted, method, err)
		}
		return common.Hash{}, fmt.Errorf("estimate gas for %s: %w", method, err)
	}
	opts.GasLimit = gas

	tx, err := c.bookkeeping.RawTransact(&opts, input)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// isRevert reports whether err is an EVM revert rather than a transport or
// node failure. Nodes attach the revert data to the JSON-RPC error.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// Receipt implements ledger.Client.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return ledger.Receipt{}, ledger.ErrReceiptPending
	}
	if err != nil {
		return ledger.Receipt{}, err
	}
	out := ledger.Receipt{
		TxHash:    r.TxHash,
		Succeeded: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func toBig(id ir.AssetID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}
