package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/observability"
	"cloudcode/observability/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRuntime accepts one envelope per POST request.
//
// Routes:
//   - POST /                     envelope in, reply out
//   - GET  /health /healthz /livez    liveness
//   - GET  /ready /readyz             readiness (processor health)
//   - GET  /metrics                   Prometheus default registry
type HTTPRuntime struct {
	processor      handler.Processor
	logger         observability.Logger
	metrics        observability.Metrics
	config         *config.HTTPConfig
	maxRequestSize int64
	router         chi.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTPRuntime creates the HTTP transport. A non-positive maxRequestSize
// falls back to 10MB.
func NewHTTPRuntime(cfg *config.HTTPConfig, maxRequestSize int64, processor handler.Processor, provider observability.Provider) *HTTPRuntime {
	if maxRequestSize <= 0 {
		maxRequestSize = 10 * 1024 * 1024
	}

	rt := &HTTPRuntime{
		processor:      processor,
		logger:         provider.Logger("transport.http"),
		metrics:        provider.Metrics("transport.http"),
		config:         cfg,
		maxRequestSize: maxRequestSize,
	}
	rt.router = rt.routes()

	return rt
}

// Name implements Runtime.
func (rt *HTTPRuntime) Name() string { return config.TransportHTTP }

// Handler returns the router, for embedding or tests.
func (rt *HTTPRuntime) Handler() http.Handler { return rt.router }

func (rt *HTTPRuntime) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/", rt.handleInvoke)

	for _, path := range []string{"/health", "/healthz", "/livez"} {
		r.Get(path, rt.handleLive)
	}
	for _, path := range []string{"/ready", "/readyz"} {
		r.Get(path, rt.handleReady)
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start listens on the configured address and serves until Stop is called.
func (rt *HTTPRuntime) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", rt.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rt.config.Addr, err)
	}
	return rt.Serve(ctx, ln)
}

// Serve serves on ln until Stop is called.
func (rt *HTTPRuntime) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      rt.router,
		ReadTimeout:  rt.config.ReadTimeout,
		WriteTimeout: rt.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	rt.mu.Lock()
	rt.server = server
	rt.listener = ln
	rt.mu.Unlock()

	rt.logger.Info(ctx, "HTTP transport started", types.Fields{
		"addr":             ln.Addr().String(),
		"max_request_size": rt.maxRequestSize,
	})

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (rt *HTTPRuntime) Addr() net.Addr {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.listener == nil {
		return nil
	}
	return rt.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx is done.
func (rt *HTTPRuntime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	server := rt.server
	rt.mu.Unlock()

	if server == nil {
		return nil
	}

	rt.logger.Info(ctx, "HTTP transport stopping", nil)
	return server.Shutdown(ctx)
}

func (rt *HTTPRuntime) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithValue(r.Context(), types.TransportKey, config.TransportHTTP)
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		ctx = context.WithValue(ctx, types.TraceIDKey, traceID)
	}

	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.maxRequestSize))
	if err != nil {
		invalid := &handler.InvalidEnvelopeError{Reason: "failed to read request body", Err: err}
		rt.metrics.RecordError("envelope", handler.ErrorName(invalid))

		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		rt.writeReply(w, status, middleware.GetReqID(r.Context()), handler.EncodeReply("", nil, invalid))
		return
	}

	reply, err := rt.processor.Process(ctx, body)
	rt.metrics.RecordDuration("envelope", time.Since(start).Seconds())

	status := http.StatusOK
	if err != nil {
		status = determineStatusCode(err)
		rt.metrics.RecordError("envelope", handler.ErrorName(err))
	} else {
		rt.metrics.RecordSuccess("envelope")
	}

	rt.writeReply(w, status, replyID(reply), reply)
}

func (rt *HTTPRuntime) writeReply(w http.ResponseWriter, status int, requestID string, reply []byte) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(status)

	if _, err := w.Write(reply); err != nil {
		rt.logger.Warn(context.Background(), "Failed to write reply", types.Fields{
			"error": err.Error(),
		})
	}
}

func (rt *HTTPRuntime) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (rt *HTTPRuntime) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := rt.processor.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	body := map[string]any{
		"status": "ready",
		"time":   time.Now().UTC(),
	}
	if c, ok := rt.processor.(configuredReporter); ok {
		body["configured"] = c.Configured()
	}
	writeJSON(w, http.StatusOK, body)
}

// configuredReporter is implemented by processors that track init.
type configuredReporter interface {
	Configured() bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// determineStatusCode maps a dispatch error to an HTTP status code
func determineStatusCode(err error) int {
	switch handler.ErrorCode(err) {
	case handler.CodeNotFound:
		return http.StatusNotFound
	case handler.CodeInvalidArgument:
		return http.StatusBadRequest
	case handler.CodeFailedPrecondition:
		return http.StatusConflict
	case handler.CodeTimeout:
		return http.StatusGatewayTimeout
	case handler.CodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// replyID extracts the envelope ID from an encoded reply.
func replyID(reply []byte) string {
	var r struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(reply, &r); err != nil {
		return ""
	}
	return r.ID
}
