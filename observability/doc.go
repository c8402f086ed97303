/*
Package observability provides structured logging and metrics collection for
the dispatcher and its transports.

# Architecture

	Provider (manages instances)
	    ├── Logger (JSON formatted for Loki)
	    └── Metrics (Prometheus compatible)

Each component (dispatcher, transport.http, transport.stdio, ...) gets its own
logger and metrics instance. Metrics are registered once per component, so the
provider must be the only place that creates them.

# Usage

	provider := observability.NewProvider(&observability.Config{
	    ServiceName: "cloudcode",
	    Environment: "production",
	    LogLevel:    "info",
	})
	defer provider.Close()

	logger := provider.Logger("dispatcher")
	metrics := provider.Metrics("dispatcher")

	metrics.StartOperation("op")
	defer metrics.EndOperation("op")

Logs go to stderr by default: the stdio transport writes replies to stdout
and the two streams must not mix.

# Context Integration

The logger copies these context values into every entry when present:
  - trace_id / span_id: set by the tracing middleware
  - request_id: the envelope ID
  - invocation: "<kind>:<name>" of the envelope being dispatched
  - transport: the transport that received the envelope

# Metrics

  - {component}_invocations_total: Counter with labels [status, kind]
  - {component}_errors_total: Counter with labels [error_type, kind]
  - {component}_duration_seconds: Histogram with label [kind]
  - {component}_body_size_bytes: Histogram with label [direction]
  - {component}_in_progress: Gauge with label [kind]

The HTTP transport exposes the default registry on /metrics.

# Testing

Use the mocks package:

	provider := mocks.NewQuietProvider()

or set explicit expectations:

	mockProvider := new(mocks.MockProvider)
	mockMetrics := new(mocks.MockMetrics)
	mockProvider.On("Metrics", "dispatcher").Return(mockMetrics)
	mockMetrics.On("RecordError", "op", "CallbackNotFoundError").Return()
*/
package observability
