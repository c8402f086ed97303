// Package types holds the observability contracts shared by the dispatcher,
// the transports and the test mocks.
//
// Design Patterns:
//   - Provider Pattern: Manages instances and configuration
//   - Dependency Inversion: Core depends on interfaces, not implementations
package types

import (
	"context"
	"io"
)

// ContextKey is the type of the context keys the logger reads from.
type ContextKey string

// Context keys populated by the dispatcher middleware and read by loggers.
const (
	TraceIDKey      ContextKey = "trace_id"
	SpanIDKey       ContextKey = "span_id"
	ParentSpanIDKey ContextKey = "parent_span_id"
	RequestIDKey    ContextKey = "request_id"
	InvocationKey   ContextKey = "invocation"
	TransportKey    ContextKey = "transport"
)

// Logger defines the contract for structured logging.
// Implementations emit JSON suitable for log aggregation systems like Loki.
// All methods are context-aware so that trace and request identifiers set by
// the dispatcher middleware end up on every entry.
type Logger interface {
	// Info logs an informational message.
	//
	// Parameters:
	//   - ctx: Context for request tracing
	//   - msg: The log message describing the event
	//   - fields: Additional structured fields for context
	Info(ctx context.Context, msg string, fields Fields)

	// Error logs an error message with the associated error.
	//
	// Parameters:
	//   - ctx: Context for request tracing
	//   - msg: The log message describing the error context
	//   - err: The error object to be logged
	//   - fields: Additional structured fields for context
	Error(ctx context.Context, msg string, err error, fields Fields)

	// Warn logs a warning message.
	Warn(ctx context.Context, msg string, fields Fields)

	// Debug logs a debug message. Typically filtered out in production.
	Debug(ctx context.Context, msg string, fields Fields)

	// WithFields returns a new Logger that includes fields in every entry.
	WithFields(fields Fields) Logger
}

// Metrics defines the contract for invocation metrics.
// Implementations should be Prometheus-compatible. The kind argument is the
// envelope kind (init, hook, op, timer, handler).
type Metrics interface {
	// RecordSuccess increments the success counter for an invocation kind.
	RecordSuccess(kind string)

	// RecordError increments the error counters for an invocation kind.
	//
	// Parameters:
	//   - kind: The invocation kind that failed
	//   - errorType: The wire name of the error (e.g., "CallbackNotFoundError")
	RecordError(kind string, errorType string)

	// RecordDuration records the duration of one dispatch in seconds.
	RecordDuration(kind string, duration float64)

	// RecordBodySize records the size of a handler body in bytes.
	//
	// Parameters:
	//   - direction: "request" or "response"
	//   - bytes: Decoded body size
	RecordBodySize(direction string, bytes int64)

	// StartOperation increments the in-progress gauge for a kind.
	// Must be paired with EndOperation.
	StartOperation(kind string)

	// EndOperation decrements the in-progress gauge for a kind.
	EndOperation(kind string)
}

// Fields represents structured logging fields as key-value pairs.
// Values must be JSON-serializable.
type Fields map[string]interface{}

// Config holds observability configuration for the provider.
type Config struct {
	// ServiceName identifies the service in logs and metrics.
	ServiceName string

	// Environment is the deployment environment (development, staging, production).
	Environment string

	// LogLevel sets the minimum log level to output (debug, info, warn, error).
	LogLevel string

	// LogOutput specifies where logs should be written. Defaults to os.Stderr,
	// because the stdio transport owns stdout.
	LogOutput io.Writer

	// AdditionalFields are included in every log entry.
	AdditionalFields Fields
}

// Provider manages the lifecycle of observability components.
// Multiple calls with the same component name return the same instance.
type Provider interface {
	// Logger returns the Logger for the specified component.
	Logger(component string) Logger

	// Metrics returns the Metrics collector for the specified component.
	Metrics(component string) Metrics

	// Close releases resources held by the provider.
	Close() error
}
