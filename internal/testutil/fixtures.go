package testutil

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
)

// Addresses used across tests. They contain no hex letters, so their
// checksummed form is stable and readable in golden files.
var (
	Owner       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	Intruder    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	Bookkeeping = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// DefaultWindow is a scan window wide enough for every fixture ledger.
var DefaultWindow = ir.ScanWindow{Start: 1, End: 100}

// InSyncLedger returns a ledger with five tracked assets and nothing pending.
func InSyncLedger() *simledger.Ledger {
	return simledger.New(simledger.State{
		Owner:   Owner,
		Sender:  Owner,
		Held:    []ir.AssetID{1, 2, 3, 4, 5},
		Tracked: []ir.AssetID{1, 2, 3, 4, 5},
	})
}

// DriftedLedger returns a ledger holding seven assets of which two (42 and 7)
// are untracked, with the pending counter at pending.
func DriftedLedger(pending uint64) *simledger.Ledger {
	return simledger.New(simledger.State{
		Owner:   Owner,
		Sender:  Owner,
		Held:    []ir.AssetID{1, 2, 3, 4, 5, 7, 42},
		Tracked: []ir.AssetID{1, 2, 3, 4, 5},
		Pending: pending,
	})
}
