package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/executor"
	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
)

// Config wires the coordinator's collaborators. Every dependency is passed
// in explicitly; the coordinator owns none of them.
type Config struct {
	Reader   *ledger.Reader
	Executor *executor.Executor

	// Gate defaults to a gate reading through Reader.
	Gate *authz.Gate

	// Identity is the configured operator. Nil means no credential.
	Identity *authz.Identity

	// Window bounds the untracked-asset scan.
	Window ir.ScanWindow
}

// Coordinator runs reconciliation passes.
//
// Thread-safety: Run may be called from several goroutines. Concurrent runs
// share nothing but the ledger, whose writes are idempotent.
type Coordinator struct {
	reader   *ledger.Reader
	exec     *executor.Executor
	gate     *authz.Gate
	identity *authz.Identity
	window   ir.ScanWindow
	ids      RunIDGenerator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRunIDGenerator overrides the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithNow overrides the wall clock used for run and step timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Coordinator. It returns an error when a required
// collaborator is missing or the scan window is malformed.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("engine: reader is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("engine: executor is required")
	}
	if err := cfg.Window.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	c := &Coordinator{
		reader:   cfg.Reader,
		exec:     cfg.Executor,
		gate:     cfg.Gate,
		identity: cfg.Identity,
		window:   cfg.Window,
		ids:      UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	if c.gate == nil {
		c.gate = authz.NewGate(cfg.Reader)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Window returns the configured scan window.
func (c *Coordinator) Window() ir.ScanWindow {
	return c.window
}

// Run executes one reconciliation pass and returns its log. Run never
// returns an error: every failure is captured in the result.
func (c *Coordinator) Run(ctx context.Context, trigger ir.Trigger) *ir.RunResult {
	r := &run{
		c:     c,
		clock: NewClock(),
		res: &ir.RunResult{
			RunID:     c.ids.Generate(),
			Trigger:   trigger,
			StartedAt: c.now(),
			State:     ir.StateIdle,
			Steps:     []ir.Step{},
		},
	}
	r.logger = c.logger.With("run_id", r.res.RunID)
	r.logger.Debug("run started", "trigger", trigger, "window", c.window.String())

	r.execute(ctx)

	r.res.FinishedAt = c.now()
	if digest, err := ir.RunDigest(r.res); err == nil {
		r.res.Digest = digest
	} else {
		r.logger.Warn("run digest failed", "error", err)
	}
	return r.res
}

// Status reads the current custody state without writing anything. Needing
// recovery is not an error.
func (c *Coordinator) Status(ctx context.Context) (ir.Status, error) {
	state, err := c.reader.Snapshot(ctx)
	if err != nil {
		return ir.Status{}, err
	}
	return ir.StatusOf(state), nil
}
