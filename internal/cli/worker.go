package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/config"
	"github.com/roach88/vaultsync/internal/engine"
	"github.com/roach88/vaultsync/internal/executor"
	"github.com/roach88/vaultsync/internal/ledger"
	"github.com/roach88/vaultsync/internal/ledger/ethrpc"
	"github.com/roach88/vaultsync/internal/observability"
	"github.com/roach88/vaultsync/internal/store"
	"github.com/roach88/vaultsync/internal/trigger"
)

// DialFunc opens the ledger client for a loaded configuration. id is nil
// when no operator credential is configured.
type DialFunc func(ctx context.Context, cfg *config.Config, id *authz.Identity) (ledger.Client, error)

// dialRPC connects to the configured JSON-RPC endpoint.
func dialRPC(ctx context.Context, cfg *config.Config, id *authz.Identity) (ledger.Client, error) {
	ec := ethrpc.Config{
		URL:         cfg.RPCURL,
		Bookkeeping: cfg.Bookkeeping(),
		AssetLedger: cfg.AssetLedger(),
	}
	if id != nil {
		ec.Key = id.Key
	}
	return ethrpc.Dial(ctx, ec)
}

// worker is the fully wired process: configuration, ledger connection,
// coordinator, metrics and the optional run journal.
type worker struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   ledger.Client
	coord    *engine.Coordinator
	provider *observability.Provider
	metrics  *observability.Metrics
	journal  *store.Store
}

// loadConfig reads .env and the environment. Configuration errors are
// command errors.
func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger installs the process logger. --verbose forces debug.
func newLogger(opts *RootOptions, cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openWorker wires every collaborator from the environment. The journal is
// opened only when withJournal is set and a journal path is configured.
func openWorker(ctx context.Context, opts *RootOptions, cmd *cobra.Command, withJournal bool) (*worker, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cmd, cfg)
	w := &worker{cfg: cfg, logger: logger}

	identity, err := authz.LoadIdentity(cfg.OperatorKey)
	switch {
	case errors.Is(err, authz.ErrCredentialMissing):
		logger.Warn("no operator key configured; runs that need writes will fail", "env", config.EnvOperatorKey)
		identity = nil
	case err != nil:
		return nil, WrapExitError(ExitCommandError, "invalid operator key", err)
	default:
		logger.Debug("operator identity loaded", "operator", identity.Address.Hex())
	}

	dial := opts.Dial
	if dial == nil {
		dial = dialRPC
	}
	client, err := dial(ctx, cfg, identity)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect to ledger", err)
	}
	w.client = client

	reader := ledger.NewReader(client, cfg.Bookkeeping(),
		ledger.WithReadTimeout(cfg.ReadTimeout),
		ledger.WithLogger(logger),
	)
	exec := executor.New(reader,
		executor.WithConfirmTimeout(cfg.ConfirmTimeout),
		executor.WithLogger(logger),
	)
	w.coord, err = engine.New(engine.Config{
		Reader:   reader,
		Executor: exec,
		Identity: identity,
		Window:   cfg.Window,
	}, engine.WithLogger(logger))
	if err != nil {
		w.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build coordinator", err)
	}

	w.provider, err = observability.Setup(ctx, observability.Config{
		ServiceName:  "vaultsync",
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		w.Close()
		return nil, WrapExitError(ExitCommandError, "failed to set up metrics", err)
	}
	w.metrics, err = observability.NewMetrics(w.provider.Meter())
	if err != nil {
		w.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	if withJournal && cfg.JournalPath != "" {
		logger.Info("opening run journal", "path", cfg.JournalPath)
		w.journal, err = store.Open(cfg.JournalPath)
		if err != nil {
			w.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
	}
	return w, nil
}

// service builds the trigger service over the worker's coordinator.
func (w *worker) service() *trigger.Service {
	opts := []trigger.Option{
		trigger.WithInterval(w.cfg.Interval),
		trigger.WithMetrics(w.metrics),
		trigger.WithLogger(w.logger),
	}
	if w.journal != nil {
		opts = append(opts, trigger.WithJournal(w.journal))
	}
	return trigger.NewService(w.coord, opts...)
}

// Close releases the journal, flushes metrics and closes the connection.
func (w *worker) Close() {
	if w.journal != nil {
		if err := w.journal.Close(); err != nil {
			w.logger.Error("error closing journal", "error", err)
		}
	}
	if w.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.provider.Shutdown(ctx)
	}
	if c, ok := w.client.(interface{ Close() }); ok {
		c.Close()
	}
}
