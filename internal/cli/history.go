package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	JournalOptions
	Outcome string // optional - filter to one outcome
	Limit   int
}

// validOutcomes lists the outcomes accepted by --outcome.
var validOutcomes = []ir.Outcome{
	ir.OutcomeNoAction,
	ir.OutcomeRecovered,
	ir.OutcomePartialFailure,
	ir.OutcomeError,
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{JournalOptions: JournalOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled runs",
		Long: `List runs recorded in the run journal, newest first.

The journal is written by 'serve' and 'reconcile' when
VAULTSYNC_JOURNAL_PATH is set. The worker never reads it to decide
anything; it exists for operators.

Examples:
  vaultsync history
  vaultsync history --outcome partial_failure --limit 5
  vaultsync history --journal ./runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	addJournalFlag(cmd, &opts.JournalOptions)
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only runs with this outcome (no_action|recovered|partial_failure|error)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome := ir.Outcome(opts.Outcome)
	if outcome != "" && !isValidOutcome(outcome) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid outcome %q: must be one of %v", opts.Outcome, validOutcomes))
	}
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "limit must be positive")
	}

	st, err := openJournal(&opts.JournalOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, store.ListFilter{Outcome: outcome, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	return f.Success(runs, func(w io.Writer) { renderHistory(w, runs) })
}

func renderHistory(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-22s  %s\n", "RUN", "TRIGGER", "OUTCOME", "REASON", "STARTED")
	for _, r := range runs {
		reason := string(r.Reason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-22s  %s\n", r.RunID, r.Trigger, r.Outcome, reason, r.StartedAt)
	}
}

func isValidOutcome(o ir.Outcome) bool {
	for _, v := range validOutcomes {
		if v == o {
			return true
		}
	}
	return false
}
