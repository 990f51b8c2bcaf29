package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/vaultsync/internal/ir"
)

// ErrRunNotFound is returned when a run id is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the history listing.
type RunSummary struct {
	RunID      string      `json:"run_id"`
	Trigger    ir.Trigger  `json:"trigger"`
	State      ir.RunState `json:"state"`
	Outcome    ir.Outcome  `json:"outcome"`
	Reason     ir.Reason   `json:"reason,omitempty"`
	StartedAt  string      `json:"started_at"`
	FinishedAt string      `json:"finished_at"`
	Digest     string      `json:"digest"`
	Steps      int         `json:"steps"`
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	// Outcome keeps only runs with this outcome when non-empty.
	Outcome ir.Outcome

	// Limit caps the number of rows. Zero means 20.
	Limit int
}

// ListRuns returns journaled runs, newest first.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]RunSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.trigger, r.state, r.outcome, r.reason, r.started_at, r.finished_at, r.digest,
		       (SELECT COUNT(*) FROM steps s WHERE s.run_id = r.run_id)
		FROM runs r
		WHERE (? = '' OR r.outcome = ?)
		ORDER BY r.id DESC
		LIMIT ?
	`, string(f.Outcome), string(f.Outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var rs RunSummary
		var trigger, state, outcome, reason string
		if err := rows.Scan(&rs.RunID, &trigger, &state, &outcome, &reason,
			&rs.StartedAt, &rs.FinishedAt, &rs.Digest, &rs.Steps); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.Trigger = ir.Trigger(trigger)
		rs.State = ir.RunState(state)
		rs.Outcome = ir.Outcome(outcome)
		rs.Reason = ir.Reason(reason)
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ReadRun reconstructs a journaled run with its steps in seq order.
// Returns ErrRunNotFound if the run id is unknown.
func (s *Store) ReadRun(ctx context.Context, runID string) (*ir.RunResult, error) {
	var (
		r                           ir.RunResult
		trigger, state, outcome     string
		reason, startedAt, finished string
		before, after, plan         *string
		warnings                    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, trigger, state, outcome, reason, message, started_at, finished_at,
		       before_state, after_state, plan, warnings, digest
		FROM runs
		WHERE run_id = ?
	`, runID).Scan(&r.RunID, &trigger, &state, &outcome, &reason, &r.Message,
		&startedAt, &finished, &before, &after, &plan, &warnings, &r.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	r.Trigger = ir.Trigger(trigger)
	r.State = ir.RunState(state)
	r.Outcome = ir.Outcome(outcome)
	r.Reason = ir.Reason(reason)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	if r.Before, err = unmarshalCustody(before); err != nil {
		return nil, err
	}
	if r.After, err = unmarshalCustody(after); err != nil {
		return nil, err
	}
	if r.Plan, err = unmarshalPlan(plan); err != nil {
		return nil, err
	}
	if r.Warnings, err = unmarshalWarnings(warnings); err != nil {
		return nil, err
	}

	if r.Steps, err = s.readSteps(ctx, runID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) readSteps(ctx context.Context, runID string) ([]ir.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at, state, action, status, detail, error, tx_hash
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []ir.Step{}
	for rows.Next() {
		var st ir.Step
		var at, state, status string
		if err := rows.Scan(&st.Seq, &at, &state, &st.Action, &status, &st.Detail, &st.Error, &st.TxHash); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if st.At, err = parseTime(at); err != nil {
			return nil, err
		}
		st.State = ir.RunState(state)
		st.Status = ir.StepStatus(status)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// VerifyRun recomputes the digest of a journaled run and compares it with the
// stored one. It returns false when the row was altered after writing.
func (s *Store) VerifyRun(ctx context.Context, runID string) (bool, error) {
	r, err := s.ReadRun(ctx, runID)
	if err != nil {
		return false, err
	}
	digest, err := ir.RunDigest(r)
	if err != nil {
		return false, fmt.Errorf("verify run: %w", err)
	}
	return digest == r.Digest, nil
}
