package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/vaultsync/internal/ir"
)

// renderRun prints a run log for humans.
func renderRun(w io.Writer, r *ir.RunResult) {
	fmt.Fprintf(w, "Run: %s (%s)\n", r.RunID, r.Trigger)
	line := fmt.Sprintf("Outcome: %s, state %s", r.Outcome, r.State)
	if r.Reason != ir.ReasonNone {
		line += ", reason " + string(r.Reason)
	}
	fmt.Fprintln(w, line)
	if r.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", r.Message)
	}
	if r.Before != nil {
		fmt.Fprintf(w, "Before:  %s\n", custodyLine(*r.Before))
	}
	if r.After != nil {
		fmt.Fprintf(w, "After:   %s\n", custodyLine(*r.After))
	}

	if len(r.Steps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Steps:")
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  [%d] %-12s %-20s %-8s", s.Seq, s.State, s.Action, s.Status)
			if s.Detail != "" {
				fmt.Fprintf(w, " %s", s.Detail)
			}
			if s.Error != "" {
				fmt.Fprintf(w, " error=%q", s.Error)
			}
			if s.TxHash != "" {
				fmt.Fprintf(w, " tx=%s", s.TxHash)
			}
			fmt.Fprintln(w)
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  %s: %s\n", warn.Code, warn.Message)
		}
	}
}

// renderStatus prints a status payload for humans.
func renderStatus(w io.Writer, s ir.Status) {
	fmt.Fprintf(w, "actual_balance:  %d\n", s.ActualBalance)
	fmt.Fprintf(w, "tracked_count:   %d\n", s.TrackedCount)
	fmt.Fprintf(w, "pending_counter: %d\n", s.PendingCounter)
	fmt.Fprintf(w, "needs_recovery:  %t\n", s.NeedsRecovery)
}

func custodyLine(s ir.CustodyState) string {
	parts := []string{
		fmt.Sprintf("actual=%d", s.ActualBalance),
		fmt.Sprintf("tracked=%d", s.TrackedCount),
		fmt.Sprintf("pending=%d", s.PendingCounter),
	}
	return strings.Join(parts, " ")
}
