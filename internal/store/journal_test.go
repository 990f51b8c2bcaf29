package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultsync/internal/ir"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun("run-1")

	inserted, err := s.WriteRun(ctx, run)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Outcome, got.Outcome)
	assert.Equal(t, run.Before, got.Before)
	assert.Equal(t, run.After, got.After)
	assert.Equal(t, run.Plan, got.Plan)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	require.Len(t, got.Steps, 3)
	assert.Equal(t, "0xabc", got.Steps[2].TxHash)
	assert.Equal(t, run.Digest, got.Digest)
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun("run-1")

	_, err := s.WriteRun(ctx, run)
	require.NoError(t, err)

	inserted, err := s.WriteRun(ctx, run)
	require.NoError(t, err)
	assert.False(t, inserted, "second write is a no-op")

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got.Steps, 3, "steps not duplicated")
}

func TestWriteRun_ComputesMissingDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun("run-1")
	run.Digest = ""

	_, err := s.WriteRun(ctx, run)
	require.NoError(t, err)

	ok, err := s.VerifyRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteRun_FailedRunWithoutSnapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun("run-failed")
	run.Before, run.After, run.Plan = nil, nil, nil
	run.State, run.Outcome, run.Reason = ir.StateFailed, ir.OutcomeError, ir.ReasonReadFailure
	run.Steps = run.Steps[:1]
	run.Digest = ir.MustRunDigest(run)

	_, err := s.WriteRun(ctx, run)
	require.NoError(t, err)

	got, err := s.ReadRun(ctx, "run-failed")
	require.NoError(t, err)
	assert.Nil(t, got.Before)
	assert.Nil(t, got.Plan)
	assert.Equal(t, ir.ReasonReadFailure, got.Reason)
}

func TestVerifyRun_DetectsTampering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteRun(ctx, createTestRun("run-1"))
	require.NoError(t, err)

	ok, err := s.VerifyRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.db.Exec(`UPDATE runs SET outcome = 'no_action' WHERE run_id = 'run-1'`)
	require.NoError(t, err)

	ok, err = s.VerifyRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		r := createTestRun(id)
		if id == "run-2" {
			r.Outcome = ir.OutcomePartialFailure
			r.Digest = ir.MustRunDigest(r)
		}
		_, err := s.WriteRun(ctx, r)
		require.NoError(t, err)
	}

	all, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].RunID, "newest first")
	assert.Equal(t, 3, all[0].Steps)

	partial, err := s.ListRuns(ctx, ListFilter{Outcome: ir.OutcomePartialFailure})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, "run-2", partial[0].RunID)

	limited, err := s.ListRuns(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
