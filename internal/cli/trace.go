package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	JournalOptions
	Action string // optional - filter to specific action
}

// TraceResult holds the trace output.
type TraceResult struct {
	Run      *ir.RunResult `json:"run"`
	Verified bool          `json:"verified"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{JournalOptions: JournalOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Show the full log of a journaled run",
		Long: `Show every step of one journaled run and check its digest.

The digest recorded with the run is recomputed from the stored log;
"verified: false" means the journal row was altered after it was written.

Examples:
  vaultsync trace 01928c6e-7a4b-7c3d-9e2f-0123456789ab
  vaultsync trace <run-id> --action recoverBatch
  vaultsync trace <run-id> --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	addJournalFlag(cmd, &opts.JournalOptions)
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter steps to one action")

	return cmd
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openJournal(&opts.JournalOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	f := newFormatter(opts.RootOptions, cmd)

	r, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		if err := f.Error(CodeRunNotFound, "run not found: "+runID, nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, "run not found: "+runID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	verified, err := st.VerifyRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify run", err)
	}

	if opts.Action != "" {
		r.Steps = r.StepsFor(opts.Action)
	}

	result := TraceResult{Run: r, Verified: verified}
	return f.Success(result, func(w io.Writer) {
		renderRun(w, r)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Digest: %s (verified: %t)\n", r.Digest, verified)
	})
}
