package ethrpc

// bookkeepingABI is the subset of the bookkeeping contract interface used by
// the worker.
const bookkeepingABI = `[
  {"type":"function","name":"getTrackedCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"pendingRequestCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getTrackedList","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"scanUntracked","stateMutability":"view","inputs":[{"name":"startId","type":"uint256"},{"name":"endId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"recoverBatch","stateMutability":"nonpayable","inputs":[{"name":"tokenIds","type":"uint256[]"}],"outputs":[]},
  {"type":"function","name":"resetPendingCounter","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// assetLedgerABI is the ERC-721 ownership count.
const assetLedgerABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodTrackedCount  = "getTrackedCount"
	methodPending       = "pendingRequestCount"
	methodTrackedList   = "getTrackedList"
	methodScanUntracked = "scanUntracked"
	methodOwner         = "owner"
	methodRecoverBatch  = "recoverBatch"
	methodResetPending  = "resetPendingCounter"
	methodBalanceOf     = "balanceOf"
)
