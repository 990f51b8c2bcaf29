package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/vaultsync/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a recovered run with three steps.
func createTestRun(runID string) *ir.RunResult {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	r := &ir.RunResult{
		RunID:      runID,
		Trigger:    ir.TriggerScheduled,
		StartedAt:  t0,
		FinishedAt: t0.Add(2 * time.Second),
		State:      ir.StateDone,
		Before:     &ir.CustodyState{ActualBalance: 14, TrackedCount: 12},
		After:      &ir.CustodyState{ActualBalance: 14, TrackedCount: 14},
		Plan:       &ir.ReconciliationPlan{Untracked: []ir.AssetID{121, 137}},
		Steps: []ir.Step{
			{Seq: 1, At: t0, State: ir.StateDetecting, Action: ir.ActionDetect, Status: ir.StepOK, Detail: "drift=2"},
			{Seq: 2, At: t0.Add(time.Millisecond), State: ir.StateAuthorizing, Action: ir.ActionAuthorize, Status: ir.StepOK},
			{Seq: 3, At: t0.Add(time.Second), State: ir.StateExecuting, Action: ir.ActionRecoverBatch, Status: ir.StepOK, TxHash: "0xabc"},
		},
		Outcome: ir.OutcomeRecovered,
	}
	r.Digest = ir.MustRunDigest(r)
	return r
}
