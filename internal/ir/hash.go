package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content digests. The version suffix allows a future
// change of encoding without colliding with older journal rows.
const (
	DomainRun = "vaultsync/run/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RunDigest computes the tamper-evident digest of a run log.
// The Digest field itself is excluded so a stored digest can be re-verified.
func RunDigest(r *RunResult) (string, error) {
	canonical, err := MarshalCanonical(RunObject(r, true))
	if err != nil {
		return "", fmt.Errorf("RunDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRun, canonical), nil
}

// MustRunDigest is like RunDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRunDigest(r *RunResult) string {
	d, err := RunDigest(r)
	if err != nil {
		panic(err)
	}
	return d
}

// RunObject converts a run log into the plain value tree accepted by
// MarshalCanonical. With identity false the run id, transaction hashes and
// every wall-clock timestamp are omitted, leaving only what is stable across
// executions of the same scenario.
func RunObject(r *RunResult, identity bool) map[string]any {
	obj := map[string]any{
		"trigger": string(r.Trigger),
		"state":   string(r.State),
		"outcome": string(r.Outcome),
	}
	if identity {
		obj["run_id"] = r.RunID
		obj["started_at"] = formatTime(r.StartedAt)
		obj["finished_at"] = formatTime(r.FinishedAt)
	}
	if r.Reason != ReasonNone {
		obj["reason"] = string(r.Reason)
	}
	if r.Message != "" {
		obj["message"] = r.Message
	}
	if r.Before != nil {
		obj["before"] = custodyObject(*r.Before)
	}
	if r.After != nil {
		obj["after"] = custodyObject(*r.After)
	}
	if r.Plan != nil {
		obj["plan"] = map[string]any{
			"untracked":     append([]AssetID{}, r.Plan.Untracked...),
			"pending_stuck": r.Plan.PendingStuck,
		}
	}

	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		step := map[string]any{
			"seq":    s.Seq,
			"state":  string(s.State),
			"action": s.Action,
			"status": string(s.Status),
		}
		if identity {
			step["at"] = formatTime(s.At)
		}
		if s.Detail != "" {
			step["detail"] = s.Detail
		}
		if s.Error != "" {
			step["error"] = s.Error
		}
		if s.TxHash != "" {
			if identity {
				step["tx_hash"] = s.TxHash
			} else {
				step["submitted"] = true
			}
		}
		steps[i] = step
	}
	obj["steps"] = steps

	if len(r.Warnings) > 0 {
		warnings := make([]any, len(r.Warnings))
		for i, w := range r.Warnings {
			warnings[i] = map[string]any{
				"code":    string(w.Code),
				"message": w.Message,
			}
		}
		obj["warnings"] = warnings
	}
	return obj
}

func custodyObject(s CustodyState) map[string]any {
	return map[string]any{
		"actual_balance":  s.ActualBalance,
		"tracked_count":   s.TrackedCount,
		"pending_counter": s.PendingCounter,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
