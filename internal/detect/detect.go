// Package detect decides what a run must correct.
//
// Detect is a pure function of the custody snapshot, the scan window and the
// bounded scan result. It never mutates ledger state.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/vaultsync/internal/ir"
)

// Scanner runs the bounded untracked-asset scan. *ledger.Reader implements it.
type Scanner interface {
	ScanUntracked(ctx context.Context, window ir.ScanWindow) ([]ir.AssetID, error)
}

// Decision is the detector result.
type Decision struct {
	// NoAction is set when custody matches tracking and nothing is pending.
	NoAction bool

	// Plan is the corrective plan. Nil when NoAction is set.
	Plan *ir.ReconciliationPlan

	// Scanned reports whether the bounded scan ran.
	Scanned bool

	// Warnings are non-fatal conditions raised during detection.
	Warnings []ir.Warning

	// Advisories note inconsistencies that neither fail nor warn, such as a
	// scan result whose length differs from the drift magnitude.
	Advisories []string
}

// InvariantViolation reports ActualBalance < TrackedCount: the tracked list
// claims assets the holder does not own. It cannot be corrected by this worker.
type InvariantViolation struct {
	State ir.CustodyState
}

// Error implements the error interface.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: actual balance %d is below tracked count %d",
		e.State.ActualBalance, e.State.TrackedCount)
}

// IsInvariantViolation returns true if err is or wraps an *InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// Detect builds the reconciliation plan for state.
//
// The scan runs only when ActualBalance > TrackedCount, and its result goes
// into the plan unfiltered and in scan order. An empty scan with positive
// drift raises ScanWindowTooNarrow. A scan failure is returned as is.
func Detect(ctx context.Context, state ir.CustodyState, window ir.ScanWindow, scanner Scanner) (Decision, error) {
	if state.InSync() {
		return Decision{NoAction: true}, nil
	}
	if state.ActualBalance < state.TrackedCount {
		return Decision{}, &InvariantViolation{State: state}
	}

	plan := &ir.ReconciliationPlan{
		Untracked:    []ir.AssetID{},
		PendingStuck: state.PendingCounter > 0,
	}
	d := Decision{Plan: plan}

	drift := state.Drift()
	if drift > 0 {
		ids, err := scanner.ScanUntracked(ctx, window)
		if err != nil {
			return Decision{}, err
		}
		d.Scanned = true
		if ids != nil {
			plan.Untracked = ids
		}

		switch {
		case len(ids) == 0:
			d.Warnings = append(d.Warnings, ir.Warning{
				Code: ir.ReasonScanWindowTooNarrow,
				Message: fmt.Sprintf("drift of %d but scan window %s found no untracked assets",
					drift, window),
			})
		case int64(len(ids)) != drift:
			d.Advisories = append(d.Advisories, fmt.Sprintf(
				"scan found %d untracked assets in %s, drift is %d", len(ids), window, drift))
		}
	}
	return d, nil
}
