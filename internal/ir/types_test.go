package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanWindowValidate(t *testing.T) {
	assert.NoError(t, ScanWindow{Start: 1, End: 1}.Validate())
	assert.NoError(t, ScanWindow{Start: 1, End: 100}.Validate())
	assert.Error(t, ScanWindow{Start: 5, End: 4}.Validate())

	w := ScanWindow{Start: 10, End: 20}
	assert.True(t, w.Contains(10))
	assert.True(t, w.Contains(20))
	assert.False(t, w.Contains(21))
	assert.Equal(t, "10..20", w.String())
}

func TestCustodyState(t *testing.T) {
	tests := []struct {
		name  string
		state CustodyState
		drift int64
		sync  bool
	}{
		{"in sync", CustodyState{ActualBalance: 5, TrackedCount: 5}, 0, true},
		{"drift", CustodyState{ActualBalance: 7, TrackedCount: 5}, 2, false},
		{"pending only", CustodyState{ActualBalance: 5, TrackedCount: 5, PendingCounter: 1}, 0, false},
		{"violation", CustodyState{ActualBalance: 4, TrackedCount: 5}, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.drift, tt.state.Drift())
			assert.Equal(t, tt.sync, tt.state.InSync())
			assert.Equal(t, !tt.sync, StatusOf(tt.state).NeedsRecovery)
		})
	}
}

func TestPlanExecutable(t *testing.T) {
	assert.False(t, ReconciliationPlan{}.Executable())
	assert.True(t, ReconciliationPlan{Untracked: []AssetID{1}}.Executable())
	assert.True(t, ReconciliationPlan{PendingStuck: true}.Executable())
}

func TestRunResultStepFilters(t *testing.T) {
	r := &RunResult{Steps: []Step{
		{Seq: 1, Action: ActionDetect},
		{Seq: 2, Action: ActionRecoverBatch},
		{Seq: 3, Action: ActionRecheckPending},
		{Seq: 4, Action: ActionResetPending},
	}}

	writes := r.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, int64(2), writes[0].Seq)
	assert.Equal(t, int64(4), writes[1].Seq)
	assert.Len(t, r.StepsFor(ActionDetect), 1)
	assert.Empty(t, r.StepsFor(ActionVerify))
}

func TestRunResultJSONUsesSnakeCase(t *testing.T) {
	r := &RunResult{
		RunID:   "x",
		State:   StateDone,
		Outcome: OutcomeNoAction,
		Before:  &CustodyState{ActualBalance: 1, TrackedCount: 1},
		Steps:   []Step{},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"run_id":"x"`)
	assert.Contains(t, s, `"actual_balance":1`)
	assert.Contains(t, s, `"outcome":"no_action"`)
	assert.NotContains(t, s, `"after"`)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateExecuting.Terminal())
}
