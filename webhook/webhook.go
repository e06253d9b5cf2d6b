// Package webhook implements the webhook server (C6): a single net/http
// listener that routes POSTs to per-path handler objects, normalizing
// paths so "/x", "webhook/x", and "/webhooks/x" are all registered and
// dispatched as "/webhooks/x".
//
// Grounded on original src/webhooks/server.py (register_handler's path
// normalization, idempotent start/stop, 404-on-unknown-path dispatch) and
// src/webhooks/handlers.py's content-type/JSON validation contract;
// structured as an explicit Server value with functional options, in the
// style of runtime/a2a/server.go's Server/ServerOption pattern, rather than
// the original's lazily-initialized singleton.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/muellerberndt/legion-core/telemetry"
)

// Handler handles one webhook path. Implementations are expected to parse
// and validate the request body, translate it into a trigger + context,
// and publish on the event bus; Handle's return values become the HTTP
// response.
type Handler interface {
	Handle(ctx context.Context, r *http.Request) (status int, body []byte, err error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, r *http.Request) (int, []byte, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, r *http.Request) (int, []byte, error) { return f(ctx, r) }

// Server is the single HTTP listener every webhook path is registered
// against. It is safe for concurrent use.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	httpSrv  *http.Server
	logger   telemetry.Logger
	metrics  *metricsHandler
}

// Option configures optional aspects of a Server.
type Option func(*Server)

// WithMetricsEndpoint mounts h at "/metrics", typically
// telemetry.MetricsHandler().
func WithMetricsEndpoint(h http.Handler) Option {
	return func(s *Server) { s.metrics = &metricsHandler{handler: h} }
}

type metricsHandler struct{ handler http.Handler }

// New constructs a Server with no routes registered yet.
func New(logger telemetry.Logger, opts ...Option) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePath rewrites "x", "/x", "webhook/x" and "/webhooks/x" to the
// canonical "/webhooks/x".
func NormalizePath(path string) string {
	path = strings.TrimPrefix(path, "webhook")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, "/webhooks/") {
		path = "/webhooks" + path
	}
	return path
}

// RegisterHandler registers handler for path, normalizing it first.
// Re-registering the same normalized path replaces the previous handler.
func (s *Server) RegisterHandler(path string, handler Handler) string {
	normalized := NormalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[normalized] = handler
	s.logger.Info("webhook: registered handler", telemetry.F("path", normalized))
	return normalized
}

// Paths returns every currently registered webhook path.
func (s *Server) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for p := range s.handlers {
		out = append(out, p)
	}
	return out
}

// Start binds the listener on port and begins serving. A second call while
// already running logs a warning and is a no-op, matching the original's
// idempotent start.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		s.logger.Warn("webhook: server already running")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/", s)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.handler)
	}

	s.httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	srv := s.httpSrv
	paths := make([]string, 0, len(s.handlers))
	for p := range s.handlers {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("webhook: listening", telemetry.F("port", port))
	for _, p := range paths {
		s.logger.Info("webhook: registered path", telemetry.F("path", p))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook: failed to start listener: %w", err)
	default:
		return nil
	}
}

// Stop releases the listener. Safe to call even if the server was never
// started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, dispatching POSTs to the handler
// registered for the request's (already-normalized) path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[r.URL.Path]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("no handler registered for path: %s", r.URL.Path), http.StatusNotFound)
		return
	}

	status, body, err := handler.Handle(r.Context(), r)
	if err != nil {
		s.logger.Error("webhook: handler error", telemetry.F("path", r.URL.Path), telemetry.F("error", err.Error()))
		if status == 0 {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// RequireJSON reads and validates that r carries a JSON content type,
// returning the raw body. Built-in handlers use this to reject non-JSON
// payloads with 400, per spec §4.6.
func RequireJSON(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "application/json") {
		return nil, errBadContentType
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: failed to read body: %w", err)
	}
	return body, nil
}

var errBadContentType = errors.New("webhook: invalid content type - must be application/json")
