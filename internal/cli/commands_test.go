package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/config"
	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
	"github.com/roach88/vaultsync/internal/store"
	"github.com/roach88/vaultsync/internal/testutil"
)

// testOperatorKey is a throwaway secp256k1 key used only in tests.
const testOperatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func operatorAddress(t *testing.T) common.Address {
	t.Helper()
	id, err := authz.LoadIdentity(testOperatorKey)
	require.NoError(t, err)
	return id.Address
}

// setEnv sets every worker variable so the host environment cannot leak in.
func setEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	vars := map[string]string{
		config.EnvRPCURL:         "http://127.0.0.1:8545",
		config.EnvBookkeeping:    testutil.Bookkeeping.Hex(),
		config.EnvAssetLedger:    "0x4444444444444444444444444444444444444444",
		config.EnvOperatorKey:    testOperatorKey,
		config.EnvScanStart:      "1",
		config.EnvScanEnd:        "100",
		config.EnvInterval:       "",
		config.EnvReadTimeout:    "",
		config.EnvConfirmTimeout: "2s",
		config.EnvListenAddr:     "",
		config.EnvTriggerSecret:  "",
		config.EnvJournalPath:    "",
		config.EnvLogLevel:       "",
		config.EnvOTLPEndpoint:   "",
	}
	for k, v := range overrides {
		vars[k] = v
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

// driftedSim holds 1-5, 7 and 42 and tracks 1-5, owned by owner and signed
// as the test operator.
func driftedSim(t *testing.T, owner common.Address, pending uint64) *simledger.Ledger {
	return simledger.New(simledger.State{
		Owner:   owner,
		Sender:  operatorAddress(t),
		Held:    []ir.AssetID{1, 2, 3, 4, 5, 7, 42},
		Tracked: []ir.AssetID{1, 2, 3, 4, 5},
		Pending: pending,
	})
}

func simDial(sim *simledger.Ledger) DialFunc {
	return func(ctx context.Context, cfg *config.Config, id *authz.Identity) (ledger.Client, error) {
		return sim, nil
	}
}

func execute(ctx context.Context, dial DialFunc, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Dial: dial})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Error  *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, out string) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	return env
}

func TestValidate_Valid(t *testing.T) {
	setEnv(t, nil)

	out, _, err := execute(context.Background(), nil, "validate", "--format", "json")
	require.NoError(t, err)

	env := decode[map[string]any](t, out)
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, operatorAddress(t).Hex(), env.Data["operator_address"])
	assert.Equal(t, true, env.Data["operator_key_set"])
	assert.Equal(t, "1..100", env.Data["scan_window"])
	assert.NotContains(t, out, testOperatorKey)
}

func TestValidate_Invalid(t *testing.T) {
	setEnv(t, map[string]string{config.EnvRPCURL: ""})

	out, _, err := execute(context.Background(), nil, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Configuration invalid:")
	assert.Contains(t, out, "VAULTSYNC_RPC_URL (rpc_url): required")
}

func TestValidate_InvalidJSON(t *testing.T) {
	setEnv(t, map[string]string{config.EnvScanStart: "9", config.EnvScanEnd: "5"})

	out, _, err := execute(context.Background(), nil, "validate", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	env := decode[any](t, out)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeConfigInvalid, env.Error.Code)
	assert.Contains(t, string(env.Error.Details), "scan_end_id")
}

func TestValidate_BadOperatorKey(t *testing.T) {
	setEnv(t, map[string]string{config.EnvOperatorKey: "0xnothex"})

	_, _, err := execute(context.Background(), nil, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid operator key")
}

func TestReconcile_RecoversDrift(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 0)

	out, _, err := execute(context.Background(), simDial(sim), "reconcile", "--format", "json")
	require.NoError(t, err)

	env := decode[ir.RunResult](t, out)
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, ir.OutcomeRecovered, env.Data.Outcome)
	assert.Equal(t, ir.TriggerOnDemand, env.Data.Trigger)
	assert.True(t, sim.Custody().InSync())
}

func TestReconcile_TextOutput(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 2)

	out, _, err := execute(context.Background(), simDial(sim), "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: recovered, state Done")
	assert.Contains(t, out, "recoverBatch")
	assert.Contains(t, out, "resetPendingCounter")
	assert.Contains(t, out, "After:   actual=7 tracked=7 pending=0")
}

func TestReconcile_UnauthorizedIsFatal(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, testutil.Owner, 0)

	out, _, err := execute(context.Background(), simDial(sim), "reconcile", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env := decode[any](t, out)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "Unauthorized", env.Error.Code)
	assert.Contains(t, string(env.Error.Details), `"outcome":"error"`)
	assert.Empty(t, sim.Submissions())
}

func TestReconcile_MissingCredential(t *testing.T) {
	setEnv(t, map[string]string{config.EnvOperatorKey: ""})
	sim := driftedSim(t, operatorAddress(t), 0)

	_, logs, err := execute(context.Background(), simDial(sim), "reconcile")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "CredentialMissing")
	assert.Contains(t, logs, "no operator key configured")
}

func TestReconcile_Strict(t *testing.T) {
	setEnv(t, map[string]string{config.EnvScanStart: "200", config.EnvScanEnd: "250"})
	sim := driftedSim(t, operatorAddress(t), 0)

	out, _, err := execute(context.Background(), simDial(sim), "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "ScanWindowTooNarrow")

	_, _, err = execute(context.Background(), simDial(sim), "reconcile", "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "partial_failure")
}

func TestReconcile_CanceledContextIsFatal(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, _, err := execute(ctx, simDial(sim), "reconcile", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env := decode[any](t, out)
	require.NotNil(t, env.Error)
	assert.Equal(t, "Canceled", env.Error.Code)
	assert.Empty(t, sim.Submissions())
}

func TestInterruptContext_CancelsOnSignal(t *testing.T) {
	ctx, stop := interruptContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled by SIGINT")
	}
}

func TestReconcile_ConfigError(t *testing.T) {
	setEnv(t, map[string]string{config.EnvBookkeeping: "not-an-address"})

	_, _, err := execute(context.Background(), simDial(driftedSim(t, operatorAddress(t), 0)), "reconcile")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReconcile_DialError(t *testing.T) {
	setEnv(t, nil)
	dial := func(ctx context.Context, cfg *config.Config, id *authz.Identity) (ledger.Client, error) {
		return nil, errors.New("connection refused")
	}

	_, _, err := execute(context.Background(), dial, "reconcile")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStatus(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 1)

	out, _, err := execute(context.Background(), simDial(sim), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "actual_balance:  7")
	assert.Contains(t, out, "tracked_count:   5")
	assert.Contains(t, out, "pending_counter: 1")
	assert.Contains(t, out, "needs_recovery:  true")
	assert.Empty(t, sim.Submissions())
}

func TestStatus_ReadFailure(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 0)
	sim.FailRead(ledger.QueryTrackedCount, errors.New("rpc timeout"))

	out, _, err := execute(context.Background(), simDial(sim), "status", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env := decode[any](t, out)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ReadFailure", env.Error.Code)
}

func TestJournal_HistoryAndTrace(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "runs.db")
	setEnv(t, map[string]string{config.EnvJournalPath: journal})
	sim := driftedSim(t, operatorAddress(t), 0)

	_, _, err := execute(context.Background(), simDial(sim), "reconcile")
	require.NoError(t, err)
	_, _, err = execute(context.Background(), simDial(sim), "reconcile")
	require.NoError(t, err)

	out, _, err := execute(context.Background(), nil, "history", "--format", "json")
	require.NoError(t, err)
	history := decode[[]store.RunSummary](t, out)
	require.Len(t, history.Data, 2)
	assert.Equal(t, ir.OutcomeNoAction, history.Data[0].Outcome)
	assert.Equal(t, ir.OutcomeRecovered, history.Data[1].Outcome)

	out, _, err = execute(context.Background(), nil, "history", "--outcome", "recovered", "--journal", journal, "--format", "json")
	require.NoError(t, err)
	filtered := decode[[]store.RunSummary](t, out)
	require.Len(t, filtered.Data, 1)
	runID := filtered.Data[0].RunID

	out, _, err = execute(context.Background(), nil, "trace", runID, "--format", "json")
	require.NoError(t, err)
	trace := decode[TraceResult](t, out)
	assert.True(t, trace.Data.Verified)
	require.NotNil(t, trace.Data.Run)
	assert.Equal(t, runID, trace.Data.Run.RunID)
	assert.NotEmpty(t, trace.Data.Run.StepsFor(ir.ActionRecoverBatch))

	out, _, err = execute(context.Background(), nil, "trace", runID, "--action", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "verify")
	assert.NotContains(t, out, "authorize")
	assert.Contains(t, out, "verified: true")
}

func TestHistory_Empty(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(journal)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	setEnv(t, nil)

	out, _, err := execute(context.Background(), nil, "history", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistory_CommandErrors(t *testing.T) {
	setEnv(t, nil)

	_, _, err := execute(context.Background(), nil, "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no journal configured")

	_, _, err = execute(context.Background(), nil, "history", "--journal", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")

	_, _, err = execute(context.Background(), nil, "history", "--journal", "x.db", "--outcome", "great")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid outcome")
}

func TestTrace_RunNotFound(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(journal)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	setEnv(t, nil)

	out, _, err := execute(context.Background(), nil, "trace", "nope", "--journal", journal)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [RunNotFound]")
}

func TestScenario_Fixtures(t *testing.T) {
	out, _, err := execute(context.Background(), nil,
		"scenario", "../harness/testdata/scenarios", "--golden", "../harness/testdata/golden")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS drift_recovered (recovered)")
	assert.Contains(t, out, "0 failed")
}

func TestScenario_FilterAndJSON(t *testing.T) {
	out, _, err := execute(context.Background(), nil,
		"scenario", "../harness/testdata/scenarios", "--filter", "*pending*", "--format", "json")
	require.NoError(t, err)

	env := decode[ScenarioSummary](t, out)
	assert.Equal(t, "ok", env.Status)
	require.Equal(t, 1, env.Data.Total)
	assert.Equal(t, "pending_reset", env.Data.Scenarios[0].Name)
}

func TestScenario_UpdateGolden(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	_, _, err := execute(context.Background(), nil,
		"scenario", "../harness/testdata/scenarios/a_in_sync.yaml", "--golden", golden, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "in_sync.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/in_sync.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestScenario_Failures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
name: expects_recovery
ledger:
  owner: "0x1111111111111111111111111111111111111111"
  held: ["1-3"]
  tracked: ["1-3"]
window: { start: 1, end: 10 }
assertions:
  - type: outcome
    expect: { outcome: recovered }
`), 0644))

	out, _, err := execute(context.Background(), nil, "scenario", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL expects_recovery")
	assert.Contains(t, out, "outcome = recovered")

	_, _, err = execute(context.Background(), nil, "scenario", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(context.Background(), nil, "scenario", bad, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_RunsScheduledPassUntilCanceled(t *testing.T) {
	setEnv(t, map[string]string{config.EnvTriggerSecret: "s3cret"})
	sim := driftedSim(t, operatorAddress(t), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := execute(ctx, simDial(sim), "serve", "--listen", "127.0.0.1:0")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return sim.Custody().InSync()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	setEnv(t, nil)
	sim := driftedSim(t, operatorAddress(t), 0)

	_, _, err := execute(context.Background(), simDial(sim), "serve", "--listen", "256.0.0.1:bad")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
