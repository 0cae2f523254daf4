// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	// outcomeOK, outcomeNotFound, and outcomeError are the "outcome" label
	// values recorded for queries and ingests.
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// queryRequestsTotal counts completed /api/query requests, partitioned by
	// outcome: "ok", "not_found", or "error".
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each /api/query
	// request including retrieval and generation.
	queryDurationSeconds *prometheus.HistogramVec

	// ingestRequestsTotal counts completed background ingests, partitioned by
	// outcome: "ok" or "error".
	ingestRequestsTotal *prometheus.CounterVec

	// ingestDurationSeconds records the duration of each background ingest
	// from upload acceptance to index completion.
	ingestDurationSeconds prometheus.Histogram

	// ingestActive is the number of background ingests currently running.
	ingestActive prometheus.Gauge

	// documentsIndexed is the number of documents currently in the registry.
	// Updated after every ingest and delete, and on each health check.
	documentsIndexed prometheus.Gauge
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragmag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragmag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragmag",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragmag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/query requests including retrieval and generation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragmag",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of background document ingests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragmag",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of background document ingests from upload acceptance to index completion.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),

		ingestActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragmag",
			Subsystem: "ingest",
			Name:      "active",
			Help:      "Number of background document ingests currently running.",
		}),

		documentsIndexed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragmag",
			Name:      "documents_indexed",
			Help:      "Number of documents currently in the registry.",
		}),
	}
}
