package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vaultsync/internal/config"
	"github.com/roach88/vaultsync/internal/trigger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string // overrides VAULTSYNC_LISTEN_ADDR
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled worker and HTTP trigger surface",
		Long: `Run reconciliation passes on a fixed interval and serve the HTTP
trigger surface until interrupted.

Configuration is read from the environment (and .env when present); see
'vaultsync validate'. Each pass is logged, counted in metrics and, when
VAULTSYNC_JOURNAL_PATH is set, appended to the run journal.

HTTP endpoints:
  GET  /healthz    liveness
  GET  /status     custody status
  POST /reconcile  one on-demand pass (bearer JWT signed with
                   VAULTSYNC_TRIGGER_SECRET, rate limited)

Example:
  vaultsync serve
  vaultsync serve --listen 127.0.0.1:9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides "+config.EnvListenAddr+")")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	w, err := openWorker(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	defer w.Close()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	addr := w.cfg.ListenAddr
	if opts.Listen != "" {
		addr = opts.Listen
	}
	if w.cfg.TriggerSecret == "" {
		w.logger.Warn("no trigger secret configured; POST /reconcile rejects every call", "env", config.EnvTriggerSecret)
	}

	svc := w.service()
	handler := trigger.NewRouter(svc, trigger.ServerConfig{
		Addr:   addr,
		Secret: []byte(w.cfg.TriggerSecret),
	})

	w.logger.Info("worker starting",
		"listen", addr,
		"interval", svc.Interval(),
		"scan_window", w.cfg.Window.String(),
		"journal", w.cfg.JournalPath != "",
	)
	fmt.Fprintf(cmd.OutOrStdout(), "vaultsync serving on %s (interval %s, scan window %s)\n",
		addr, svc.Interval(), w.cfg.Window)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.RunScheduled(gctx)
	})
	g.Go(func() error {
		return trigger.Serve(gctx, addr, handler, w.logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "worker error", err)
	}

	w.logger.Info("worker stopped gracefully")
	return nil
}
