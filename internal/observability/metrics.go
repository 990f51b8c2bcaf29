package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/vaultsync/internal/ir"
)

// Instrument names.
const (
	MetricRuns        = "vaultsync.runs"
	MetricWrites      = "vaultsync.writes"
	MetricRunDuration = "vaultsync.run.duration"
	MetricDrift       = "vaultsync.drift"
	MetricPending     = "vaultsync.pending_counter"
)

// Metrics records run results.
type Metrics struct {
	runs     metric.Int64Counter
	writes   metric.Int64Counter
	duration metric.Float64Histogram
	drift    metric.Int64Gauge
	pending  metric.Int64Gauge
}

// NewMetrics creates the worker instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.runs, err = meter.Int64Counter(MetricRuns,
		metric.WithDescription("Reconciliation runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.writes, err = meter.Int64Counter(MetricWrites,
		metric.WithDescription("Corrective ledger writes by action and status"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Run wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	m.drift, err = meter.Int64Gauge(MetricDrift,
		metric.WithDescription("Actual balance minus tracked count at run start"),
		metric.WithUnit("{asset}"),
	)
	if err != nil {
		return nil, err
	}

	m.pending, err = meter.Int64Gauge(MetricPending,
		metric.WithDescription("Pending operation counter at run start"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records one finished run. A nil receiver records nothing.
func (m *Metrics) RecordRun(ctx context.Context, r *ir.RunResult) {
	if m == nil || r == nil {
		return
	}

	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(r.Outcome)),
		attribute.String("reason", string(r.Reason)),
		attribute.String("trigger", string(r.Trigger)),
	))
	m.duration.Record(ctx, r.Duration().Seconds(), metric.WithAttributes(
		attribute.String("outcome", string(r.Outcome)),
	))

	for _, s := range r.Writes() {
		m.writes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", s.Action),
			attribute.String("status", writeStatus(s)),
		))
	}

	if r.Before != nil {
		m.drift.Record(ctx, r.Before.Drift())
		m.pending.Record(ctx, int64(r.Before.PendingCounter))
	}
}

// writeStatus is the executor status that leads a write step's detail, or
// the step status for steps that never reached the executor.
func writeStatus(s ir.Step) string {
	if s.Status == ir.StepSkipped {
		return string(ir.StepSkipped)
	}
	if f := strings.Fields(s.Detail); len(f) > 0 {
		return f[0]
	}
	return string(s.Status)
}
