package trigger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/engine"
	"github.com/roach88/vaultsync/internal/executor"
	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
	"github.com/roach88/vaultsync/internal/testutil"
)

type fakeRunner struct {
	mu        sync.Mutex
	triggers  []ir.Trigger
	result    *ir.RunResult
	status    ir.Status
	statusErr error
	ran       chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, trigger ir.Trigger) *ir.RunResult {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	if f.ran != nil {
		f.ran <- struct{}{}
	}
	r := *f.result
	r.Trigger = trigger
	return &r
}

func (f *fakeRunner) Status(context.Context) (ir.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeRunner) calls() []ir.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ir.Trigger(nil), f.triggers...)
}

type memJournal struct {
	mu   sync.Mutex
	runs []*ir.RunResult
	err  error
}

func (j *memJournal) WriteRun(_ context.Context, r *ir.RunResult) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return false, j.err
	}
	j.runs = append(j.runs, r)
	return true, nil
}

func noActionRun() *ir.RunResult {
	return &ir.RunResult{
		RunID:   "run-1",
		State:   ir.StateDone,
		Before:  &ir.CustodyState{ActualBalance: 12, TrackedCount: 12},
		Outcome: ir.OutcomeNoAction,
	}
}

func fatalRun() *ir.RunResult {
	return &ir.RunResult{
		RunID:   "run-2",
		State:   ir.StateFailed,
		Outcome: ir.OutcomeError,
		Reason:  ir.ReasonReadFailure,
		Message: "ownedCount: connection refused",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRunScheduledRunsUntilCanceled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{result: noActionRun(), ran: make(chan struct{})}
	journal := &memJournal{}
	svc := NewService(runner,
		WithInterval(5*time.Millisecond),
		WithJournal(journal),
		WithLogger(discardLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunScheduled(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-runner.ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("scheduled pass %d did not run", i+1)
		}
	}
	cancel()

	// Unblock a pass that may have started before cancel was observed.
	go func() {
		for range runner.ran {
		}
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	close(runner.ran)

	calls := runner.calls()
	require.GreaterOrEqual(t, len(calls), 3)
	for _, c := range calls {
		assert.Equal(t, ir.TriggerScheduled, c)
	}
	journal.mu.Lock()
	assert.Len(t, journal.runs, len(calls))
	journal.mu.Unlock()
}

func TestRunScheduledFirstPassIsImmediate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{result: noActionRun(), ran: make(chan struct{}, 1)}
	svc := NewService(runner, WithInterval(time.Hour), WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunScheduled(ctx) }()

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass did not run before the first tick")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunScheduledAlreadyCanceled(t *testing.T) {
	runner := &fakeRunner{result: noActionRun()}
	svc := NewService(runner, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.RunScheduled(ctx))
	assert.Empty(t, runner.calls())
}

func TestRunOnDemandOK(t *testing.T) {
	runner := &fakeRunner{result: noActionRun()}
	svc := NewService(runner, WithLogger(discardLogger()))

	resp := svc.RunOnDemand(context.Background())
	require.True(t, resp.OK())
	assert.Nil(t, resp.Error)
	r, ok := resp.Data.(*ir.RunResult)
	require.True(t, ok)
	assert.Equal(t, ir.OutcomeNoAction, r.Outcome)
	assert.Equal(t, []ir.Trigger{ir.TriggerOnDemand}, runner.calls())
}

func TestRunOnDemandPartialFailureIsOK(t *testing.T) {
	partial := noActionRun()
	partial.Outcome = ir.OutcomePartialFailure
	partial.Warnings = []ir.Warning{{Code: ir.ReasonScanWindowTooNarrow, Message: "no untracked ids in 1..10"}}
	svc := NewService(&fakeRunner{result: partial}, WithLogger(discardLogger()))

	resp := svc.RunOnDemand(context.Background())
	require.True(t, resp.OK())
	assert.Equal(t, ir.OutcomePartialFailure, resp.Data.(*ir.RunResult).Outcome)
}

func TestRunOnDemandFatalIsError(t *testing.T) {
	svc := NewService(&fakeRunner{result: fatalRun()}, WithLogger(discardLogger()))

	resp := svc.RunOnDemand(context.Background())
	require.False(t, resp.OK())
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ReadFailure", resp.Error.Code)
	assert.Equal(t, "ownedCount: connection refused", resp.Error.Message)
	details, ok := resp.Error.Details.(*ir.RunResult)
	require.True(t, ok)
	assert.Equal(t, ir.StateFailed, details.State)
}

func TestGetStatus(t *testing.T) {
	want := ir.Status{ActualBalance: 14, TrackedCount: 12, NeedsRecovery: true}
	svc := NewService(&fakeRunner{status: want}, WithLogger(discardLogger()))

	resp := svc.GetStatus(context.Background())
	require.True(t, resp.OK(), "needing recovery is not an error")
	assert.Equal(t, want, resp.Data)
}

func TestGetStatusReadFailure(t *testing.T) {
	svc := NewService(&fakeRunner{statusErr: &ledger.ReadFailure{Query: ledger.QueryOwnedCount, Err: errors.New("timeout")}},
		WithLogger(discardLogger()))

	resp := svc.GetStatus(context.Background())
	require.False(t, resp.OK())
	assert.Equal(t, "ReadFailure", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "ownedCount")
}

func TestGetStatusReadTimeoutIsReadFailure(t *testing.T) {
	svc := NewService(&fakeRunner{statusErr: &ledger.ReadFailure{Query: ledger.QueryTrackedCount, Err: context.DeadlineExceeded}},
		WithLogger(discardLogger()))

	resp := svc.GetStatus(context.Background())
	require.False(t, resp.OK())
	assert.Equal(t, "ReadFailure", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "trackedCount")
}

func TestGetStatusCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewService(&fakeRunner{statusErr: &ledger.ReadFailure{Query: ledger.QueryOwnedCount, Err: context.Canceled}},
		WithLogger(discardLogger()))

	resp := svc.GetStatus(ctx)
	require.False(t, resp.OK())
	assert.Equal(t, "Canceled", resp.Error.Code)
}

func TestJournalFailureDoesNotFailRun(t *testing.T) {
	var logs bytes.Buffer
	svc := NewService(&fakeRunner{result: noActionRun()},
		WithJournal(&memJournal{err: errors.New("disk full")}),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	resp := svc.RunOnDemand(context.Background())
	assert.True(t, resp.OK())
	assert.Contains(t, logs.String(), "journal write failed")
}

func TestRunLogLevelFollowsOutcome(t *testing.T) {
	var logs bytes.Buffer
	svc := NewService(&fakeRunner{result: fatalRun()},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	svc.RunOnDemand(context.Background())
	out := logs.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "reason=ReadFailure")
	assert.Contains(t, out, "run_id=run-2")
}

func TestServiceOverCoordinator(t *testing.T) {
	sim := testutil.DriftedLedger(2)
	reader := ledger.NewReader(sim, testutil.Bookkeeping)
	coord, err := engine.New(engine.Config{
		Reader: reader,
		Executor: executor.New(reader,
			executor.WithPollInterval(time.Millisecond),
			executor.WithConfirmTimeout(time.Second)),
		Identity: &authz.Identity{Address: testutil.Owner},
		Window:   testutil.DefaultWindow,
	}, engine.WithNow(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)

	journal := &memJournal{}
	svc := NewService(coord, WithJournal(journal), WithLogger(discardLogger()))

	before := svc.GetStatus(context.Background())
	require.True(t, before.OK())
	assert.True(t, before.Data.(ir.Status).NeedsRecovery)

	resp := svc.RunOnDemand(context.Background())
	require.True(t, resp.OK())
	r := resp.Data.(*ir.RunResult)
	assert.Equal(t, ir.OutcomeRecovered, r.Outcome)
	assert.Equal(t, ir.TriggerOnDemand, r.Trigger)
	require.Len(t, journal.runs, 1)
	assert.Equal(t, r.RunID, journal.runs[0].RunID)

	after := svc.GetStatus(context.Background())
	require.True(t, after.OK())
	assert.False(t, after.Data.(ir.Status).NeedsRecovery)
}
