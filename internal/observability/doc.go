// Package observability exports reconciliation metrics through
// OpenTelemetry.
//
// Instruments are created from any metric.Meter, so the worker records into
// the global no-op provider unless an OTLP endpoint is configured.
package observability
