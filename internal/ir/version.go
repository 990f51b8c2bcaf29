package ir

// Version constants for the run log format and the worker.
const (
	// RunLogVersion is the RunResult schema version.
	RunLogVersion = "1"

	// WorkerVersion is the vaultsync worker version.
	WorkerVersion = "0.3.0"
)
