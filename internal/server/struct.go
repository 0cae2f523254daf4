package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragmag/ragmag-go/internal/engine"
	"github.com/ragmag/ragmag-go/internal/images"
	"github.com/ragmag/ragmag-go/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request. Must be
	// generous enough for large PDF uploads.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/documents, /api/query,
	// and /api/images routes. If empty, authentication is disabled
	// (development mode).
	APIKey string
	// UIDir is the directory of static web UI files served at "/".
	// Defaults to "ui/static".
	UIDir string
	// PromRegistry receives the server's Prometheus metrics. If nil a fresh
	// registry is created; pass prometheus.NewRegistry() in tests for hermetic
	// metric state.
	PromRegistry *prometheus.Registry
}

// ingestor is the interface the document handlers call. *ingestion.Manager
// satisfies it; tests inject a fake.
type ingestor interface {
	Add(ctx context.Context, path, docID string) (registry.Document, error)
	Delete(ctx context.Context, docID string) error
	Update(ctx context.Context, docID, path string) (registry.Document, error)
	List(ctx context.Context) ([]registry.Document, error)
	Info(ctx context.Context, docID string) (registry.Document, []registry.Page, error)
	Count(ctx context.Context) (int, error)
}

// asker is the interface the query handler calls. *engine.Engine satisfies
// it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, q engine.Query) (*engine.Answer, error)
}

// Server is the HTTP server exposing the document and query API plus the web UI.
type Server struct {
	// ingestor runs the document pipeline for upload/delete/update requests.
	ingestor ingestor
	// asker answers /api/query requests.
	asker asker
	// images serves stored page screenshots.
	images *images.Manager
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// bg tracks in-flight background ingests so Start can drain them on shutdown.
	bg sync.WaitGroup
}

// uploadResponse is the JSON body for a 202 Accepted upload.
type uploadResponse struct {
	// DocumentID is the authoritative ID assigned to the document. The
	// background ingest indexes under exactly this ID.
	DocumentID string `json:"document_id"`
	// Filename is the uploaded file's original name.
	Filename string `json:"filename"`
	// Status is always "processing" for a 202 response.
	Status string `json:"status"`
}

// documentResponse is the JSON form of one registry document.
type documentResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
	CreatedAt  string `json:"created_at"`
}

// documentListResponse is the JSON body for GET /api/documents.
type documentListResponse struct {
	Documents []documentResponse `json:"documents"`
	Total     int                `json:"total"`
}

// pageResponse is the JSON form of one registry page.
type pageResponse struct {
	PageNumber  int    `json:"page_number"`
	ImagePath   string `json:"image_path,omitempty"`
	TextPreview string `json:"text_preview"`
}

// documentDetailResponse is the JSON body for GET /api/documents/{id}.
type documentDetailResponse struct {
	documentResponse
	Pages []pageResponse `json:"pages"`
}

// deleteResponse is the JSON body for DELETE /api/documents/{id}.
type deleteResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the user's question (1–1000 characters).
	Query string `json:"query"`
	// TopK overrides the retrieval depth (1–20; 0 = server default).
	TopK int `json:"top_k,omitempty"`
	// IncludeImages controls whether page screenshots enter the prompt.
	// Defaults to true when omitted.
	IncludeImages *bool `json:"include_images,omitempty"`
}

// queryResponse is the JSON body for POST /api/query.
type queryResponse struct {
	Answer    string          `json:"answer"`
	Sources   []engine.Source `json:"sources"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

// healthResponse is the JSON body for GET /api/health.
type healthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	DocumentsIndexed int    `json:"documents_indexed"`
}

// errorResponse is the JSON error body used by all API endpoints.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
