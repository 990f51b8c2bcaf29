package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/vaultsync/internal/ir"
)

// InstrumentationName names the meter used for all worker instruments.
const InstrumentationName = "github.com/roach88/vaultsync"

// Config configures metric export.
type Config struct {
	ServiceName  string
	OTLPEndpoint string        // host:port of an OTLP gRPC collector; empty disables export
	Interval     time.Duration // export interval, default 15s
}

// Provider owns the meter provider for the life of the process.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger
}

// Setup builds the meter provider. With no endpoint it returns a provider
// backed by the global meter provider and exports nothing.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "vaultsync"
	}
	if cfg.OTLPEndpoint == "" {
		p.meter = otel.Meter(InstrumentationName, metric.WithInstrumentationVersion(ir.WorkerVersion))
		p.logger.DebugContext(ctx, "metric export disabled")
		return p, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(ir.WorkerVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(InstrumentationName, metric.WithInstrumentationVersion(ir.WorkerVersion))

	p.logger.InfoContext(ctx, "metric export enabled", "endpoint", cfg.OTLPEndpoint, "interval", cfg.Interval)
	return p, nil
}

// Meter returns the worker meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes and stops the exporter, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		return err
	}
	return nil
}
