package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() *RunResult {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &RunResult{
		RunID:      "run-1",
		Trigger:    TriggerOnDemand,
		StartedAt:  t0,
		FinishedAt: t0.Add(time.Second),
		State:      StateDone,
		Before:     &CustodyState{ActualBalance: 3, TrackedCount: 1},
		After:      &CustodyState{ActualBalance: 3, TrackedCount: 3},
		Plan:       &ReconciliationPlan{Untracked: []AssetID{5, 9}},
		Steps: []Step{
			{Seq: 1, At: t0, State: StateDetecting, Action: ActionDetect, Status: StepOK},
			{Seq: 2, At: t0, State: StateExecuting, Action: ActionRecoverBatch, Status: StepOK, TxHash: "0xabc"},
		},
		Outcome: OutcomeRecovered,
	}
}

func TestRunDigestDeterminism(t *testing.T) {
	d1, err := RunDigest(sampleRun())
	require.NoError(t, err)
	d2, err := RunDigest(sampleRun())
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "RunDigest must be deterministic")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestRunDigestIgnoresDigestField(t *testing.T) {
	r := sampleRun()
	before := MustRunDigest(r)
	r.Digest = before
	assert.Equal(t, before, MustRunDigest(r))
}

func TestRunDigestChangesWithContent(t *testing.T) {
	base := MustRunDigest(sampleRun())

	r := sampleRun()
	r.Outcome = OutcomePartialFailure
	assert.NotEqual(t, base, MustRunDigest(r))

	r = sampleRun()
	r.Plan.Untracked = []AssetID{9, 5}
	assert.NotEqual(t, base, MustRunDigest(r), "scan order is significant")

	r = sampleRun()
	r.RunID = "run-2"
	assert.NotEqual(t, base, MustRunDigest(r))
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, hashWithDomain("a", data), hashWithDomain("b", data))
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestRunObjectStableOmitsIdentity(t *testing.T) {
	obj := RunObject(sampleRun(), false)
	assert.NotContains(t, obj, "run_id")
	assert.NotContains(t, obj, "started_at")

	steps := obj["steps"].([]any)
	require.Len(t, steps, 2)
	assert.NotContains(t, steps[0].(map[string]any), "at")

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"untracked":[5,9]`)
}
