package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/ir"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current custody status",
		Long: `Read the current custody state without writing anything.

needs_recovery is true whenever the actual balance differs from the
tracked count or the pending counter is positive. Needing recovery is
not an error; only a failed read exits non-zero.

Examples:
  vaultsync status
  vaultsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	w, err := openWorker(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer w.Close()

	resp := w.service().GetStatus(ctx)
	f := newFormatter(opts, cmd)
	if !resp.OK() {
		if err := f.Error(resp.Error.Code, resp.Error.Message, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "status read failed: "+resp.Error.Message)
	}

	st := resp.Data.(ir.Status)
	return f.Success(st, func(out io.Writer) { renderStatus(out, st) })
}
