// Package server implements the HTTP server that exposes the document
// ingestion and question-answering API and serves the web UI.
// The server is started by the `ragmag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragmag/ragmag-go/internal/images"
)

// New constructs a Server from the provided collaborators and config.
func New(ing ingestor, ask asker, imgs *images.Manager, cfg *Config) (*Server, error) {
	if ing == nil {
		return nil, fmt.Errorf("server: ingestor must not be nil")
	}
	if ask == nil {
		return nil, fmt.Errorf("server: asker must not be nil")
	}
	if imgs == nil {
		return nil, fmt.Errorf("server: image manager must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		// ReadTimeout must be long enough for large PDF uploads.
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full retrieval + generation round trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.UIDir == "" {
		cfg.UIDir = "ui/static"
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	reg := cfg.PromRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		ingestor: ing,
		asker:    ask,
		images:   imgs,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(reg),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API_KEY is empty — authentication disabled")
	}

	// protected routes require the Bearer token; open routes (probes, metrics,
	// UI) never do.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, h))
	}
	open := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/documents", protected("documents_create", s.handleUpload))
	mux.Handle("GET /api/documents", protected("documents_list", s.handleListDocuments))
	mux.Handle("GET /api/documents/{id}", protected("documents_get", s.handleGetDocument))
	mux.Handle("DELETE /api/documents/{id}", protected("documents_delete", s.handleDeleteDocument))
	mux.Handle("PUT /api/documents/{id}", protected("documents_update", s.handleUpdateDocument))
	mux.Handle("POST /api/query", protected("query", s.handleQuery))
	mux.Handle("GET /api/images/{docID}/{page}", protected("images_page", s.handlePageImage))
	mux.Handle("GET /api/images/file/{filename}", protected("images_file", s.handleImageFile))
	mux.Handle("GET /api/health", open("health", s.handleHealth))
	mux.Handle("GET /api/ready", open("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", http.FileServer(http.Dir(cfg.UIDir)))

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, rl.middleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root HTTP handler, including all middleware.
// Used by tests to drive the server through httptest without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close releases background resources without serving. Tests that never call
// Start use this to stop the rate limiter's eviction goroutine.
func (s *Server) Close() {
	if s.stopRL != nil {
		s.stopRL()
		s.stopRL = nil
	}
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown, draining in-flight
// requests and waiting for background ingests to finish.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}

		// Background ingests keep running after their 202 response; give them
		// the same shutdown window before exiting.
		done := make(chan struct{})
		go func() {
			s.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.log.Warn("server: background ingests still running at shutdown deadline")
		}
		return nil
	}
}

// writeJSON encodes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("server: response encode error", slog.Any("error", err))
	}
}

// writeError sends the standard JSON error body. detail may be empty.
func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}
