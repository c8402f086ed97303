// Package metrics provides Prometheus collectors for dispatcher invocations.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the Metrics interface using the Prometheus
// client library. All metric names are prefixed with the namespace.
type PrometheusMetrics struct {
	serviceName string

	// invocationsTotal counts dispatches by status (success/error) and kind
	invocationsTotal *prometheus.CounterVec
	// errorsTotal counts failures by wire error name and kind
	errorsTotal *prometheus.CounterVec
	// durationSeconds observes dispatch latency per kind
	durationSeconds *prometheus.HistogramVec
	// bodySizeBytes observes decoded handler body sizes
	bodySizeBytes *prometheus.HistogramVec
	// inProgress tracks dispatches currently running per kind
	inProgress *prometheus.GaugeVec
}

// Namespace turns a component name such as "handler.dispatch" into a valid
// Prometheus metric prefix ("handler_dispatch").
func Namespace(component string) string {
	var b strings.Builder
	for i, r := range component {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// New creates a PrometheusMetrics instance and registers its collectors with
// prometheus.DefaultRegisterer.
//
// Pre-configured metrics:
//   - {serviceName}_invocations_total: Counter with labels [status, kind]
//   - {serviceName}_errors_total: Counter with labels [error_type, kind]
//   - {serviceName}_duration_seconds: Histogram with label [kind]
//   - {serviceName}_body_size_bytes: Histogram with label [direction]
//   - {serviceName}_in_progress: Gauge with label [kind]
//
// Panics if registration fails (e.g., duplicate metric names).
func New(serviceName string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		serviceName: serviceName,
	}

	m.invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_invocations_total", serviceName),
			Help: fmt.Sprintf("Total invocations dispatched by %s", serviceName),
		},
		[]string{"status", "kind"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_errors_total", serviceName),
			Help: fmt.Sprintf("Total failed invocations in %s", serviceName),
		},
		[]string{"error_type", "kind"},
	)

	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_duration_seconds", serviceName),
			Help:    fmt.Sprintf("Invocation duration in %s", serviceName),
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// 256B .. 4MB
	m.bodySizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_body_size_bytes", serviceName),
			Help:    fmt.Sprintf("Handler body sizes seen by %s", serviceName),
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"direction"},
	)

	m.inProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_in_progress", serviceName),
			Help: fmt.Sprintf("Invocations in progress in %s", serviceName),
		},
		[]string{"kind"},
	)

	prometheus.MustRegister(
		m.invocationsTotal,
		m.errorsTotal,
		m.durationSeconds,
		m.bodySizeBytes,
		m.inProgress,
	)

	return m
}

// RecordSuccess increments {serviceName}_invocations_total with status="success".
func (m *PrometheusMetrics) RecordSuccess(kind string) {
	m.invocationsTotal.WithLabelValues("success", kind).Inc()
}

// RecordError increments both the invocation counter (status="error") and the
// detailed error counter.
//
// Example:
//
//	metrics.RecordError("op", "CallbackNotFoundError")
func (m *PrometheusMetrics) RecordError(kind string, errorType string) {
	m.invocationsTotal.WithLabelValues("error", kind).Inc()
	m.errorsTotal.WithLabelValues(errorType, kind).Inc()
}

// RecordDuration records the duration of one dispatch in seconds.
func (m *PrometheusMetrics) RecordDuration(kind string, duration float64) {
	m.durationSeconds.WithLabelValues(kind).Observe(duration)
}

// RecordBodySize records a decoded handler body size.
func (m *PrometheusMetrics) RecordBodySize(direction string, bytes int64) {
	m.bodySizeBytes.WithLabelValues(direction).Observe(float64(bytes))
}

// StartOperation increments the in-progress gauge for kind.
//
// Example:
//
//	metrics.StartOperation("handler")
//	defer metrics.EndOperation("handler")
func (m *PrometheusMetrics) StartOperation(kind string) {
	m.inProgress.WithLabelValues(kind).Inc()
}

// EndOperation decrements the in-progress gauge for kind.
func (m *PrometheusMetrics) EndOperation(kind string) {
	m.inProgress.WithLabelValues(kind).Dec()
}
