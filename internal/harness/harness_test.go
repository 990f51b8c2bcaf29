package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
)

func inSyncScenario() *Scenario {
	return &Scenario{
		Name: "minimal",
		Ledger: LedgerSetup{
			Owner:   "0x1111111111111111111111111111111111111111",
			Held:    IDList{1, 2, 3},
			Tracked: IDList{1, 2, 3},
		},
		Window: ir.ScanWindow{Start: 1, End: 10},
		Assertions: []Assertion{
			{Type: AssertOutcome, Expect: map[string]any{"outcome": "no_action"}},
		},
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(inSyncScenario())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "scenario-minimal", result.Last().RunID)
	assert.Equal(t, ir.TriggerScenario, result.Last().Trigger)
	assert.Empty(t, result.Writes)
	assert.Equal(t, ir.CustodyState{ActualBalance: 3, TrackedCount: 3}, result.Final)
}

func TestRun_FailingAssertion(t *testing.T) {
	scenario := inSyncScenario()
	scenario.Assertions = []Assertion{
		{Type: AssertOutcome, Expect: map[string]any{"outcome": "recovered"}},
		{Type: AssertWriteCount, Count: 1},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRun_MultiplePasses(t *testing.T) {
	scenario := inSyncScenario()
	scenario.Ledger.Held = IDList{1, 2, 3, 7}
	scenario.Runs = 2
	scenario.RunID = "fixed"

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Runs, 2)

	assert.Equal(t, ir.OutcomeRecovered, result.Runs[0].Outcome)
	assert.Equal(t, ir.OutcomeNoAction, result.Runs[1].Outcome)
	assert.Equal(t, "fixed", result.Runs[1].RunID)
	assert.Equal(t, []simledger.Call{{Method: simledger.MethodRecoverBatch, IDs: []ir.AssetID{7}}}, result.Writes)
}

func TestRun_NoCredential(t *testing.T) {
	scenario := inSyncScenario()
	scenario.Ledger.Pending = 1
	scenario.NoCredential = true

	result, err := Run(scenario)
	require.NoError(t, err)

	r := result.Last()
	assert.Equal(t, ir.OutcomeError, r.Outcome)
	assert.Equal(t, ir.ReasonCredentialMissing, r.Reason)
	assert.Empty(t, result.Writes)
}

func TestRunContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := RunContext(ctx, inSyncScenario(), nil)
	require.NoError(t, err)

	r := result.Last()
	assert.Equal(t, ir.StateFailed, r.State)
	assert.Equal(t, ir.ReasonCanceled, r.Reason)
	assert.False(t, result.Pass)
}

func TestNew_Accessors(t *testing.T) {
	h, err := New(inSyncScenario(), nil)
	require.NoError(t, err)

	assert.NotNil(t, h.Ledger())
	assert.Equal(t, ir.ScanWindow{Start: 1, End: 10}, h.Coordinator().Window())
}

// Every fixture under testdata/scenarios must pass its own assertions.
func TestScenarioFixtures(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%v", result.Errors)
		})
	}
}
