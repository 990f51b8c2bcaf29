package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/observability"
)

// DefaultInterval is the scheduled pass interval.
const DefaultInterval = 60 * time.Second

// Runner executes reconciliation passes and status reads.
type Runner interface {
	Run(ctx context.Context, trigger ir.Trigger) *ir.RunResult
	Status(ctx context.Context) (ir.Status, error)
}

// Journal is an append-only run sink.
type Journal interface {
	WriteRun(ctx context.Context, r *ir.RunResult) (bool, error)
}

// Response is the result envelope returned to on-demand callers.
type Response struct {
	Status string     `json:"status"`          // "ok" or "error"
	Data   any        `json:"data,omitempty"`  // success payload
	Error  *ErrorBody `json:"error,omitempty"` // error details
}

// ErrorBody describes a failed call.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OK reports whether the response is a success.
func (r Response) OK() bool {
	return r.Status == "ok"
}

// Service drives a Runner and records every result.
type Service struct {
	runner   Runner
	journal  Journal
	metrics  *observability.Metrics
	interval time.Duration
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithInterval sets the scheduled pass interval.
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithJournal appends every finished run to j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithMetrics records every finished run in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service around runner.
func NewService(runner Runner, opts ...Option) *Service {
	s := &Service{
		runner:   runner,
		interval: DefaultInterval,
		logger:   slog.Default().With("component", "trigger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the scheduled pass interval.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// RunScheduled runs one pass immediately and then one per interval until ctx
// is canceled. Passes never overlap: a pass that outlasts the interval
// delays the next one. It returns nil on cancellation.
func (s *Service) RunScheduled(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval)
	defer s.logger.InfoContext(context.WithoutCancel(ctx), "scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.pass(ctx, ir.TriggerScheduled)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnDemand runs one pass synchronously. A fatal run is an error response
// carrying the full result; partial failures are ok responses whose payload
// reports the outcome.
func (s *Service) RunOnDemand(ctx context.Context) Response {
	r := s.pass(ctx, ir.TriggerOnDemand)
	if r.Fatal() {
		return Response{
			Status: "error",
			Error: &ErrorBody{
				Code:    string(r.Reason),
				Message: r.Message,
				Details: r,
			},
		}
	}
	return Response{Status: "ok", Data: r}
}

// GetStatus reads the current custody state. Needing recovery is reported in
// the payload, never as an error.
func (s *Service) GetStatus(ctx context.Context) Response {
	st, err := s.runner.Status(ctx)
	if err != nil {
		// A read that hit its own timeout is still a ReadFailure; only the
		// caller's context ending is a cancellation.
		code := ir.ReasonReadFailure
		if ctx.Err() != nil {
			code = ir.ReasonCanceled
		}
		s.logger.WarnContext(ctx, "status read failed", "error", err)
		return Response{
			Status: "error",
			Error:  &ErrorBody{Code: string(code), Message: err.Error()},
		}
	}
	return Response{Status: "ok", Data: st}
}

// Run runs one pass with the given trigger and records it.
func (s *Service) Run(ctx context.Context, trigger ir.Trigger) *ir.RunResult {
	return s.pass(ctx, trigger)
}

func (s *Service) pass(ctx context.Context, trigger ir.Trigger) *ir.RunResult {
	r := s.runner.Run(ctx, trigger)
	s.record(ctx, r)
	return r
}

// record sends r to every sink. Sinks run after the pass and use a context
// detached from cancellation so a canceled run is still recorded.
func (s *Service) record(ctx context.Context, r *ir.RunResult) {
	sinkCtx := context.WithoutCancel(ctx)

	s.logger.Log(sinkCtx, levelFor(r.Outcome), "run finished", RunAttrs(r)...)
	s.metrics.RecordRun(sinkCtx, r)

	if s.journal == nil {
		return
	}
	if _, err := s.journal.WriteRun(sinkCtx, r); err != nil {
		s.logger.ErrorContext(sinkCtx, "journal write failed", "run_id", r.RunID, "error", err)
	}
}

// RunAttrs flattens a run result into log attributes.
func RunAttrs(r *ir.RunResult) []any {
	attrs := []any{
		"run_id", r.RunID,
		"trigger", r.Trigger,
		"state", r.State,
		"outcome", r.Outcome,
		"steps", len(r.Steps),
		"writes", len(r.Writes()),
		"duration", r.Duration(),
	}
	if r.Reason != ir.ReasonNone {
		attrs = append(attrs, "reason", r.Reason)
	}
	if r.Message != "" {
		attrs = append(attrs, "message", r.Message)
	}
	if r.Before != nil {
		attrs = append(attrs, slog.Group("before",
			"actual", r.Before.ActualBalance,
			"tracked", r.Before.TrackedCount,
			"pending", r.Before.PendingCounter,
		))
	}
	if r.After != nil {
		attrs = append(attrs, slog.Group("after",
			"actual", r.After.ActualBalance,
			"tracked", r.After.TrackedCount,
			"pending", r.After.PendingCounter,
		))
	}
	for _, w := range r.Warnings {
		attrs = append(attrs, slog.String("warning", string(w.Code)+": "+w.Message))
	}
	if r.Digest != "" {
		attrs = append(attrs, "digest", r.Digest)
	}
	return attrs
}

func levelFor(o ir.Outcome) slog.Level {
	switch o {
	case ir.OutcomeError:
		return slog.LevelError
	case ir.OutcomePartialFailure:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
