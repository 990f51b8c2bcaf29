package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/vaultsync/internal/ir"
)

// marshalJSON converts v to JSON TEXT with HTML escaping disabled.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// marshalCustody stores a custody snapshot. A nil snapshot (the run never
// reached that point) is stored as NULL.
func marshalCustody(s *ir.CustodyState) (any, error) {
	if s == nil {
		return nil, nil
	}
	text, err := marshalJSON(s)
	if err != nil {
		return nil, fmt.Errorf("marshal custody: %w", err)
	}
	return text, nil
}

func unmarshalCustody(data *string) (*ir.CustodyState, error) {
	if data == nil {
		return nil, nil
	}
	var s ir.CustodyState
	if err := json.Unmarshal([]byte(*data), &s); err != nil {
		return nil, fmt.Errorf("unmarshal custody: %w", err)
	}
	return &s, nil
}

func marshalPlan(p *ir.ReconciliationPlan) (any, error) {
	if p == nil {
		return nil, nil
	}
	text, err := marshalJSON(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return text, nil
}

func unmarshalPlan(data *string) (*ir.ReconciliationPlan, error) {
	if data == nil {
		return nil, nil
	}
	var p ir.ReconciliationPlan
	if err := json.Unmarshal([]byte(*data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if p.Untracked == nil {
		p.Untracked = []ir.AssetID{}
	}
	return &p, nil
}

func marshalWarnings(ws []ir.Warning) (string, error) {
	if ws == nil {
		ws = []ir.Warning{}
	}
	text, err := marshalJSON(ws)
	if err != nil {
		return "", fmt.Errorf("marshal warnings: %w", err)
	}
	return text, nil
}

// unmarshalWarnings returns nil for an empty list so a journaled run matches
// the original, whose Warnings are nil until one is raised.
func unmarshalWarnings(data string) ([]ir.Warning, error) {
	var ws []ir.Warning
	if err := json.Unmarshal([]byte(data), &ws); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	if len(ws) == 0 {
		return nil, nil
	}
	return ws, nil
}

// formatTime stores wall time as UTC RFC 3339 with nanoseconds, the same
// encoding ir.RunDigest uses, so a read-back run re-digests identically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
