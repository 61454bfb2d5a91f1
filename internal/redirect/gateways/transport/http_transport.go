package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/gateways/dom"
	"github.com/haukened/privacy-redirect/internal/redirect/gateways/remote"
	"github.com/haukened/privacy-redirect/internal/redirect/services/interceptor"
)

const (
	maxDescriptorBytes = 64 << 10
	maxDocumentBytes   = 5 << 20
	shutdownTimeout    = 5 * time.Second
)

// Options configures an HTTPTransport.
type Options struct {
	Addr      string
	Logger    log.Logger
	AllowList SnapshotSource
	Stats     StatsFunc
}

// HTTPTransport implements ServerTransport over HTTP/1.1 JSON.
type HTTPTransport struct {
	addr      string
	logger    log.Logger
	allowList SnapshotSource
	stats     StatsFunc
	validate  *validator.Validate

	mu       sync.RWMutex
	running  bool
	server   *http.Server
	listener net.Listener
}

// NewHTTPTransport creates a new HTTP transport instance.
func NewHTTPTransport(opts Options) *HTTPTransport {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &HTTPTransport{
		addr:      opts.Addr,
		logger:    opts.Logger,
		allowList: opts.AllowList,
		stats:     opts.Stats,
		validate:  validator.New(),
	}
}

// Name implements interceptor.NavigationSource.
func (t *HTTPTransport) Name() string { return "http" }

// Start binds the listener and serves in the background. The server also
// stops when ctx is cancelled.
func (t *HTTPTransport) Start(ctx context.Context, handler interceptor.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("HTTP transport already running")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.addr, err)
	}

	t.listener = ln
	t.server = &http.Server{
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "http",
		"address":   ln.Addr().String(),
	}, "navigation transport started")

	go t.serve(t.server, ln)
	go func() {
		<-ctx.Done()
		t.logger.Debug(nil, "HTTP transport stopping due to context cancellation")
		_ = t.Stop()
	}()
	return nil
}

func (t *HTTPTransport) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.logger.Error(map[string]any{"error": err.Error()}, "HTTP transport failed")
	}
}

// Stop gracefully shuts down the server.
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := t.server.Shutdown(ctx)
	if err != nil {
		t.logger.Warn(map[string]any{
			"error": err.Error(),
		}, "Error shutting down HTTP server")
	}
	t.running = false

	t.logger.Info(map[string]any{
		"transport": "http",
		"address":   t.listener.Addr().String(),
	}, "navigation transport stopped")
	return err
}

// Address returns the bound address while running, else the configured one.
func (t *HTTPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.running && t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Handler builds the API routes around handler.
func (t *HTTPTransport) Handler(handler interceptor.Handler) http.Handler {
	clicks := dom.NewClickHandler(handler, t.logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathNavigation, t.handleNavigation(handler))
	mux.HandleFunc("POST "+PathLinks, t.handleLinks(clicks))
	mux.HandleFunc("GET "+PathAllowedList, t.handleAllowedList)
	mux.HandleFunc("GET "+PathHealthcheck, t.handleHealth)
	mux.HandleFunc("GET "+PathStats, t.handleStats)
	return t.logRequests(mux)
}

// handleNavigation answers a request descriptor with a decision. Anything
// wrong with the body is answered with the allow decision.
func (t *HTTPTransport) handleNavigation(handler interceptor.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.NavigationRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDescriptorBytes))
		if err := dec.Decode(&req); err != nil {
			t.logger.Warn(map[string]any{"error": err.Error()}, "malformed navigation descriptor")
			writeJSON(w, http.StatusOK, domain.AllowNavigation())
			return
		}
		if err := t.validate.Struct(req); err != nil {
			t.logger.Warn(map[string]any{"url": req.URL, "error": err.Error()}, "invalid navigation descriptor")
			writeJSON(w, http.StatusOK, domain.AllowNavigation())
			return
		}
		writeJSON(w, http.StatusOK, handler.HandleNavigation(r.Context(), req))
	}
}

// handleLinks rewrites every anchor of the posted HTML document as if each
// had been clicked on the page named by the page query parameter.
func (t *HTTPTransport) handleLinks(clicks *dom.ClickHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if err := t.validate.Var(page, "required,http_url"); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page query parameter must be an absolute http(s) url"})
			return
		}
		var out bytes.Buffer
		n, err := clicks.RewriteHTML(r.Context(), http.MaxBytesReader(w, r.Body, maxDocumentBytes), &out, page)
		if err != nil {
			t.logger.Warn(map[string]any{"page": page, "error": err.Error()}, "failed to rewrite document")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable document"})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Rewritten-Links", strconv.Itoa(n))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, &out)
	}
}

func (t *HTTPTransport) handleAllowedList(w http.ResponseWriter, _ *http.Request) {
	var p domain.AllowListPayload
	if t.allowList != nil {
		p = t.allowList.Snapshot()
	}
	writeJSON(w, http.StatusOK, remote.FromPayload(p))
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{}
	if t.stats != nil {
		stats = t.stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequests logs method, path, status and latency. Bodies and query
// strings are never logged.
func (t *HTTPTransport) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		t.logger.Debug(map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"elapsed_ms": time.Since(start).Milliseconds(),
		}, "handled request")
	})
}

var _ ServerTransport = (*HTTPTransport)(nil)
