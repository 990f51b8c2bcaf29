package store

import (
	"context"
	"fmt"

	"github.com/roach88/vaultsync/internal/ir"
)

// WriteRun appends a run and its steps in one transaction.
//
// Uses ON CONFLICT(run_id) DO NOTHING for idempotency: journaling the same
// run twice keeps the first copy and reports inserted=false.
//
// When the run carries no digest one is computed here, so every journal row
// can be verified later.
func (s *Store) WriteRun(ctx context.Context, r *ir.RunResult) (inserted bool, err error) {
	digest := r.Digest
	if digest == "" {
		if digest, err = ir.RunDigest(r); err != nil {
			return false, fmt.Errorf("write run: %w", err)
		}
	}

	before, err := marshalCustody(r.Before)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	after, err := marshalCustody(r.After)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	plan, err := marshalPlan(r.Plan)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	warnings, err := marshalWarnings(r.Warnings)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, trigger, state, outcome, reason, message, started_at, finished_at,
		 before_state, after_state, plan, warnings, digest, worker_version, log_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		r.RunID,
		string(r.Trigger),
		string(r.State),
		string(r.Outcome),
		string(r.Reason),
		r.Message,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		before,
		after,
		plan,
		warnings,
		digest,
		ir.WorkerVersion,
		ir.RunLogVersion,
	)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write run: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, step := range r.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps
			(run_id, seq, at, state, action, status, detail, error, tx_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.RunID,
			step.Seq,
			formatTime(step.At),
			string(step.State),
			step.Action,
			string(step.Status),
			step.Detail,
			step.Error,
			step.TxHash,
		)
		if err != nil {
			return false, fmt.Errorf("write step %d: %w", step.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write run: commit: %w", err)
	}
	return true, nil
}
