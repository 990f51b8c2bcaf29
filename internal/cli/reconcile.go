package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/ir"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Strict bool // partial_failure exits 1
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass now",
		Long: `Run one synchronous reconciliation pass and print its run log.

The pass reads custody, detects drift and a stuck pending counter, and,
when the configured operator owns the bookkeeping contract, submits the
corrective writes and verifies them.

Exit codes:
  0 - Pass completed (outcome no_action, recovered or partial_failure)
  1 - Fatal run (outcome error), or partial_failure with --strict
  2 - Command error (invalid configuration, etc.)

Examples:
  vaultsync reconcile
  vaultsync reconcile --strict --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when the outcome is partial_failure")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := interruptContext(parentCtx)
	defer stop()

	w, err := openWorker(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	defer w.Close()

	resp := w.service().RunOnDemand(ctx)
	f := newFormatter(opts.RootOptions, cmd)

	if !resp.OK() {
		r, _ := resp.Error.Details.(*ir.RunResult)
		if f.Format == "json" {
			if err := f.Respond(resp); err != nil {
				return err
			}
		} else if r != nil {
			renderRun(f.Writer, r)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("run failed: %s: %s", resp.Error.Code, resp.Error.Message))
	}

	r := resp.Data.(*ir.RunResult)
	if err := f.Success(r, func(out io.Writer) { renderRun(out, r) }); err != nil {
		return err
	}
	if opts.Strict && r.Outcome == ir.OutcomePartialFailure {
		return NewExitError(ExitFailure, fmt.Sprintf("run ended in partial_failure: %s", r.Message))
	}
	return nil
}

// interruptContext cancels on SIGINT or SIGTERM so a manual pass stops at its
// next suspension point instead of dying mid-write.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
