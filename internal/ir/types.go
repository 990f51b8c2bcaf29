package ir

import (
	"fmt"
	"time"
)

// AssetID identifies one non-fungible collectible on the asset ledger.
// Immutable once minted.
type AssetID uint64

// ScanWindow is the inclusive id range searched for untracked assets.
//
// The bookkeeping contract cannot enumerate the assets it holds, so the window
// is operator-supplied configuration and is never inferred.
type ScanWindow struct {
	Start AssetID `json:"start" yaml:"start"`
	End   AssetID `json:"end" yaml:"end"`
}

// Validate reports whether the window is well formed.
func (w ScanWindow) Validate() error {
	if w.End < w.Start {
		return fmt.Errorf("scan window end %d is before start %d", w.End, w.Start)
	}
	return nil
}

// Contains reports whether id falls inside the window.
func (w ScanWindow) Contains(id AssetID) bool {
	return id >= w.Start && id <= w.End
}

func (w ScanWindow) String() string {
	return fmt.Sprintf("%d..%d", w.Start, w.End)
}

// CustodyState is the derived view of custody for one run.
//
// Under normal operation ActualBalance == TrackedCount. ActualBalance greater
// than TrackedCount is drift; the difference is the number of untracked assets.
type CustodyState struct {
	ActualBalance  uint64 `json:"actual_balance" yaml:"actual_balance"`
	TrackedCount   uint64 `json:"tracked_count" yaml:"tracked_count"`
	PendingCounter uint64 `json:"pending_counter" yaml:"pending_counter"`
}

// Drift returns ActualBalance - TrackedCount. Negative values are an
// invariant violation, not drift.
func (s CustodyState) Drift() int64 {
	return int64(s.ActualBalance) - int64(s.TrackedCount)
}

// InSync reports whether custody matches tracking and nothing is pending.
func (s CustodyState) InSync() bool {
	return s.ActualBalance == s.TrackedCount && s.PendingCounter == 0
}

// NeedsRecovery is the derived status flag exposed by the status query.
func (s CustodyState) NeedsRecovery() bool {
	return !s.InSync()
}

// ReconciliationPlan is the detector's output. It is constructed and
// discarded within one run.
type ReconciliationPlan struct {
	// Untracked is exactly the bounded scan result, in scan order.
	Untracked []AssetID `json:"untracked"`

	// PendingStuck is set whenever the pending counter is positive.
	PendingStuck bool `json:"pending_stuck"`
}

// Executable reports whether the plan contains any write to attempt.
func (p ReconciliationPlan) Executable() bool {
	return len(p.Untracked) > 0 || p.PendingStuck
}

// RunState is a Run Coordinator state.
type RunState string

const (
	StateIdle        RunState = "Idle"
	StateReading     RunState = "Reading"
	StateDetecting   RunState = "Detecting"
	StateAuthorizing RunState = "Authorizing"
	StateExecuting   RunState = "Executing"
	StateVerifying   RunState = "Verifying"
	StateDone        RunState = "Done"
	StateFailed      RunState = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Outcome is the terminal classification of a run.
type Outcome string

const (
	OutcomeNoAction       Outcome = "no_action"
	OutcomeRecovered      Outcome = "recovered"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeError          Outcome = "error"
)

// Reason names the failure or warning class behind an outcome.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonReadFailure         Reason = "ReadFailure"
	ReasonScanWindowTooNarrow Reason = "ScanWindowTooNarrow"
	ReasonCredentialMissing   Reason = "CredentialMissing"
	ReasonUnauthorized        Reason = "Unauthorized"
	ReasonWriteSubmission     Reason = "WriteSubmissionFailure"
	ReasonWriteExecution      Reason = "WriteExecutionFailure"
	ReasonWriteUnconfirmed    Reason = "WriteConfirmationTimeout"
	ReasonInvariantViolation  Reason = "InvariantViolation"
	ReasonCanceled            Reason = "Canceled"
)

// Step actions recorded in the run log.
const (
	ActionRead           = "read"
	ActionDetect         = "detect"
	ActionAuthorize      = "authorize"
	ActionRecoverBatch   = "recoverBatch"
	ActionRecheckPending = "recheckPending"
	ActionResetPending   = "resetPendingCounter"
	ActionVerify         = "verify"
)

// IsWrite reports whether action is a corrective ledger write.
func IsWrite(action string) bool {
	return action == ActionRecoverBatch || action == ActionResetPending
}

// StepStatus is the result of one logged step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepWarning StepStatus = "warning"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Step is one entry of the run log.
type Step struct {
	Seq    int64      `json:"seq"`
	At     time.Time  `json:"at"`
	State  RunState   `json:"state"`
	Action string     `json:"action"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Error  string     `json:"error,omitempty"`
	TxHash string     `json:"tx_hash,omitempty"`
}

// Warning is a non-fatal condition that needs operator attention.
type Warning struct {
	Code    Reason `json:"code"`
	Message string `json:"message"`
}

// Trigger names the entry point that started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "on_demand"
	TriggerScenario  Trigger = "scenario"
)

// RunResult is the append-only structured log of one reconciliation pass.
// It is returned to the caller and never retained by the worker.
type RunResult struct {
	RunID      string              `json:"run_id"`
	Trigger    Trigger             `json:"trigger"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	State      RunState            `json:"state"`
	Before     *CustodyState       `json:"before,omitempty"`
	After      *CustodyState       `json:"after,omitempty"`
	Plan       *ReconciliationPlan `json:"plan,omitempty"`
	Steps      []Step              `json:"steps"`
	Warnings   []Warning           `json:"warnings,omitempty"`
	Outcome    Outcome             `json:"outcome"`
	Reason     Reason              `json:"reason,omitempty"`
	Message    string              `json:"message,omitempty"`
	Digest     string              `json:"digest,omitempty"`
}

// Writes returns the steps that record corrective writes, in log order.
func (r *RunResult) Writes() []Step {
	var out []Step
	for _, s := range r.Steps {
		if IsWrite(s.Action) {
			out = append(out, s)
		}
	}
	return out
}

// StepsFor returns the steps recorded for action, in log order.
func (r *RunResult) StepsFor(action string) []Step {
	var out []Step
	for _, s := range r.Steps {
		if s.Action == action {
			out = append(out, s)
		}
	}
	return out
}

// Fatal reports whether the run ended in the Failed state.
func (r *RunResult) Fatal() bool {
	return r.Outcome == OutcomeError
}

// Duration is the wall time spent in the run.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is the payload of the read-only status query.
type Status struct {
	ActualBalance  uint64 `json:"actual_balance"`
	TrackedCount   uint64 `json:"tracked_count"`
	PendingCounter uint64 `json:"pending_counter"`
	NeedsRecovery  bool   `json:"needs_recovery"`
}

// StatusOf derives the status payload from a custody snapshot.
func StatusOf(s CustodyState) Status {
	return Status{
		ActualBalance:  s.ActualBalance,
		TrackedCount:   s.TrackedCount,
		PendingCounter: s.PendingCounter,
		NeedsRecovery:  s.NeedsRecovery(),
	}
}
