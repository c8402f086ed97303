package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"cloudcode/observability"
	"cloudcode/observability/types"

	"github.com/google/uuid"
)

// LoggingMiddleware adds structured logging to every dispatch
func LoggingMiddleware(provider observability.Provider) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (any, error) {
			logger := provider.Logger("dispatcher")

			transport, _ := ctx.Value(types.TransportKey).(string)

			requestLogger := logger.WithFields(types.Fields{
				"request_id": env.ID,
				"kind":       string(env.Kind),
				"name":       payloadName(env),
				"transport":  transport,
			})

			requestLogger.Debug(ctx, "Dispatching envelope", types.Fields{
				"payload_size": len(env.Payload),
			})

			start := time.Now()

			result, err := next(ctx, env)

			duration := time.Since(start)

			if err != nil {
				requestLogger.Error(ctx, "Dispatch failed", err, types.Fields{
					"error_name":  ErrorName(err),
					"error_code":  ErrorCode(err),
					"duration_ms": duration.Milliseconds(),
				})
			} else {
				requestLogger.Info(ctx, "Dispatch completed", types.Fields{
					"duration_ms": duration.Milliseconds(),
				})
			}

			return result, err
		}
	}
}

// MetricsMiddleware records invocation metrics per envelope kind
func MetricsMiddleware(provider observability.Provider) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (any, error) {
			metrics := provider.Metrics("dispatcher")

			kind := string(env.Kind)
			if !env.Kind.Valid() {
				kind = "unknown"
			}

			metrics.StartOperation(kind)
			defer metrics.EndOperation(kind)

			start := time.Now()

			result, err := next(ctx, env)

			metrics.RecordDuration(kind, time.Since(start).Seconds())

			if err != nil {
				metrics.RecordError(kind, ErrorName(err))
			} else {
				metrics.RecordSuccess(kind)
			}

			return result, err
		}
	}
}

// RecoveryMiddleware turns a panicking callback into a PanicError.
// It should be the outermost layer.
func RecoveryMiddleware(provider observability.Provider) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					panicErr := &PanicError{Value: r, Stack: debug.Stack()}

					provider.Logger("dispatcher").Error(ctx, "Panic recovered", panicErr, types.Fields{
						"request_id": env.ID,
						"kind":       string(env.Kind),
						"stack":      string(panicErr.Stack),
					})
					provider.Metrics("dispatcher").RecordError("panic", "PanicError")

					result = nil
					err = panicErr
				}
			}()

			return next(ctx, env)
		}
	}
}

// TracingMiddleware puts trace and span IDs in the context. An existing
// trace ID (set by a transport from an incoming header) is kept, and an
// existing span becomes the parent span.
func TracingMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (any, error) {
			traceID, _ := ctx.Value(types.TraceIDKey).(string)
			if traceID == "" {
				traceID = uuid.New().String()
			}

			if parent, _ := ctx.Value(types.SpanIDKey).(string); parent != "" {
				ctx = context.WithValue(ctx, types.ParentSpanIDKey, parent)
			}

			ctx = context.WithValue(ctx, types.TraceIDKey, traceID)
			ctx = context.WithValue(ctx, types.SpanIDKey, uuid.New().String())

			return next(ctx, env)
		}
	}
}

// TimeoutMiddleware bounds a dispatch. When the timeout expires first the
// dispatch fails with a TimeoutError; the callback keeps running with a
// cancelled context and its result is discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)

			go func() {
				// A panic here would not reach RecoveryMiddleware on the
				// caller's goroutine.
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
					}
				}()

				result, err := next(timeoutCtx, env)
				done <- outcome{result, err}
			}()

			select {
			case out := <-done:
				return out.result, out.err

			case <-timeoutCtx.Done():
				if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, &TimeoutError{Timeout: timeout}
				}
				return nil, fmt.Errorf("dispatch cancelled: %w", timeoutCtx.Err())
			}
		}
	}
}

// ValidationMiddleware rejects envelopes that cannot be routed and assigns
// an ID to envelopes that have none. Init may omit its payload. A missing
// callback name is left to the registry lookup.
func ValidationMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, env Envelope) (any, error) {
			if env.ID == "" {
				env.ID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, types.RequestIDKey, env.ID)

			if !env.Kind.Valid() {
				return nil, &InvalidEnvelopeError{Reason: fmt.Sprintf("unknown kind %q", env.Kind)}
			}

			if len(env.Payload) == 0 {
				if env.Kind == KindInit {
					return next(ctx, env)
				}
				return nil, &InvalidEnvelopeError{Reason: fmt.Sprintf("%s payload is required", env.Kind)}
			}

			if !json.Valid(env.Payload) {
				return nil, &InvalidEnvelopeError{Reason: "payload must be valid JSON"}
			}

			return next(ctx, env)
		}
	}
}
