package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloudcode/config"
	"cloudcode/observability"
	"cloudcode/observability/types"
)

// DispatchFunc handles one envelope and returns the value sent back to the
// host under "result".
type DispatchFunc func(ctx context.Context, env Envelope) (any, error)

// Middleware wraps a DispatchFunc to add cross-cutting concerns.
type Middleware func(next DispatchFunc) DispatchFunc

// Dispatcher routes envelopes to the callbacks of a Registry.
//
// Every dispatch is independent. The only shared state is the configuration
// stored by init; each init replaces the previous one.
type Dispatcher struct {
	registry    Registry
	obs         observability.Provider
	config      *config.HandlerConfig
	middlewares []Middleware

	mu         sync.RWMutex
	configured bool
	settings   json.RawMessage
}

// NewDispatcher creates a dispatcher without middleware. A nil config uses
// config.DefaultHandlerConfig. Most callers want the Factory instead.
func NewDispatcher(registry Registry, provider observability.Provider, cfg *config.HandlerConfig) *Dispatcher {
	if cfg == nil {
		defaults := config.DefaultHandlerConfig()
		cfg = &defaults
	}
	return &Dispatcher{
		registry:    registry,
		obs:         provider,
		config:      cfg,
		middlewares: []Middleware{},
	}
}

// Use adds middleware to the chain. The first middleware added is the
// outermost one.
func (d *Dispatcher) Use(middleware Middleware) {
	d.middlewares = append(d.middlewares, middleware)
}

// Dispatch runs env through the middleware chain and routes it by kind.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (any, error) {
	dispatch := d.buildChain()

	if env.ID != "" {
		ctx = context.WithValue(ctx, types.RequestIDKey, env.ID)
	}
	ctx = context.WithValue(ctx, types.InvocationKey, invocation(env))

	return dispatch(ctx, env)
}

// Health reports whether the dispatcher can take work.
func (d *Dispatcher) Health(ctx context.Context) error {
	if d.registry == nil {
		return fmt.Errorf("dispatcher has no registry")
	}
	return nil
}

func (d *Dispatcher) buildChain() DispatchFunc {
	dispatch := d.route

	for i := len(d.middlewares) - 1; i >= 0; i-- {
		dispatch = d.middlewares[i](dispatch)
	}

	return dispatch
}

// route is the innermost DispatchFunc.
func (d *Dispatcher) route(ctx context.Context, env Envelope) (any, error) {
	switch env.Kind {
	case KindInit:
		return d.Init(ctx, env.Payload)

	case KindHook:
		var p HookPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return d.Hook(ctx, p)

	case KindOp:
		var p OpPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return d.Op(ctx, p)

	case KindTimer:
		var p TimerPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return d.Timer(ctx, p)

	case KindHandler:
		var p HandlerPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return d.Handler(ctx, p)
	}

	return nil, &InvalidEnvelopeError{Reason: fmt.Sprintf("unknown kind %q", env.Kind)}
}

func decodePayload(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &InvalidEnvelopeError{Reason: fmt.Sprintf("%s payload", env.Kind), Err: err}
	}
	return nil
}

// Init stores payload as the configuration, replacing any earlier one, and
// returns the registered names. An absent payload is stored as JSON null.
func (d *Dispatcher) Init(ctx context.Context, payload json.RawMessage) ([]string, error) {
	settings := json.RawMessage("null")
	if len(payload) > 0 {
		settings = bytes.Clone(payload)
	}

	d.mu.Lock()
	d.settings = settings
	d.configured = true
	d.mu.Unlock()

	return d.registry.FuncList(), nil
}

// Configured reports whether init has been received.
func (d *Dispatcher) Configured() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.configured
}

// Config returns a copy of the configuration stored by init.
func (d *Dispatcher) Config() (json.RawMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.configured {
		return nil, ErrNotConfigured
	}
	return bytes.Clone(d.settings), nil
}

// DecodeConfig unmarshals the configuration stored by init into v.
func (d *Dispatcher) DecodeConfig(v any) error {
	raw, err := d.Config()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}
	return nil
}

// Hook invokes the named hook. When the callback returns nil the result is
// param.record.
func (d *Dispatcher) Hook(ctx context.Context, p HookPayload) (any, error) {
	fn, ok := d.registry.Lookup(CategoryHook, p.Name)
	if !ok {
		return nil, &CallbackNotFoundError{Category: CategoryHook, Name: p.Name}
	}

	result, err := fn(ctx, p.Param)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	var param hookParam
	if len(p.Param) > 0 {
		// A param that is not an object has no record.
		_ = json.Unmarshal(p.Param, &param)
	}
	return param.Record, nil
}

// Op invokes the named op and returns its result unchanged.
func (d *Dispatcher) Op(ctx context.Context, p OpPayload) (any, error) {
	return d.call(ctx, CategoryOp, p.Name, p.Param)
}

// Timer invokes the named timer. Timers and ops live in separate namespaces.
func (d *Dispatcher) Timer(ctx context.Context, p TimerPayload) (any, error) {
	return d.call(ctx, CategoryTimer, p.Name, p.Param)
}

func (d *Dispatcher) call(ctx context.Context, category Category, name string, param json.RawMessage) (any, error) {
	fn, ok := d.registry.Lookup(category, name)
	if !ok {
		return nil, &CallbackNotFoundError{Category: category, Name: name}
	}
	return fn(ctx, param)
}

// Handler invokes the handler registered for the payload's name and method
// with a Request built over its param, and encodes the result.
func (d *Dispatcher) Handler(ctx context.Context, p HandlerPayload) (*ResponseEnvelope, error) {
	fn, ok := d.registry.LookupHandler(p.Name, p.Param.Method)
	if !ok {
		return nil, &CallbackNotFoundError{Category: CategoryHandler, Name: p.Name, Method: p.Param.Method}
	}

	req, err := newRequest(p.Param, d.config.FormMaxMemory)
	if err != nil {
		return nil, err
	}
	req.onPanic = d.formPanicHandler(ctx)
	if d.config.EnableMetrics && d.obs != nil {
		d.obs.Metrics("dispatcher").RecordBodySize("request", int64(len(req.body)))
	}

	result, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := encodeResponse(result)
	if err != nil {
		return nil, err
	}
	if d.config.EnableMetrics && d.obs != nil {
		d.obs.Metrics("dispatcher").RecordBodySize("response", int64(base64DecodedLen(resp.Body)))
	}

	return resp, nil
}

func base64DecodedLen(s string) int {
	n := len(s) / 4 * 3
	switch {
	case len(s) >= 2 && s[len(s)-2:] == "==":
		n -= 2
	case len(s) >= 1 && s[len(s)-1] == '=':
		n--
	}
	return n
}

// formPanicHandler logs panics raised by Form callbacks, which run outside
// the middleware chain.
func (d *Dispatcher) formPanicHandler(ctx context.Context) func(*PanicError) {
	if d.obs == nil {
		return nil
	}
	return func(p *PanicError) {
		if d.config.EnableMetrics {
			d.obs.Metrics("dispatcher").RecordError(string(KindHandler), ErrorName(p))
		}
		d.obs.Logger("dispatcher").Error(ctx, "Form callback panicked", p, types.Fields{
			"stack": string(p.Stack),
		})
	}
}
