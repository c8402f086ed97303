package handler

import (
	"cloudcode/config"
	"cloudcode/observability"
)

// Factory builds dispatchers with the standard middleware stack.
type Factory struct {
	registry   Registry
	provider   observability.Provider
	handlerCfg config.HandlerConfig
}

// NewFactory creates a new dispatcher factory with default settings.
func NewFactory(registry Registry, provider observability.Provider) *Factory {
	return &Factory{
		registry:   registry,
		provider:   provider,
		handlerCfg: config.DefaultHandlerConfig(),
	}
}

// WithHandlerConfig sets custom dispatcher configuration.
func (f *Factory) WithHandlerConfig(cfg config.HandlerConfig) *Factory {
	f.handlerCfg = cfg
	return f
}

// Create returns a dispatcher with the default middleware stack applied.
func (f *Factory) Create() *Dispatcher {
	cfg := f.handlerCfg
	d := NewDispatcher(f.registry, f.provider, &cfg)

	f.applyDefaultMiddleware(d)

	return d
}

// applyDefaultMiddleware adds the standard middleware stack.
func (f *Factory) applyDefaultMiddleware(d *Dispatcher) {
	// Recovery middleware (outermost - catches all panics)
	d.Use(RecoveryMiddleware(f.provider))

	if f.handlerCfg.EnableTracing {
		d.Use(TracingMiddleware())
	}

	if f.handlerCfg.EnableMetrics {
		d.Use(MetricsMiddleware(f.provider))
	}

	d.Use(LoggingMiddleware(f.provider))
	d.Use(ValidationMiddleware())

	// Innermost, so that the timeout covers the callback only.
	if f.handlerCfg.Timeout > 0 {
		d.Use(TimeoutMiddleware(f.handlerCfg.Timeout))
	}
}

// DetectTransport guesses the transport from the process environment.
func DetectTransport() string {
	if config.IsLambda() {
		return config.TransportLambda
	}
	return config.TransportHTTP
}
