// Package metrics defines the Prometheus collectors shared by the vocabulary
// tree services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the services.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	FindQueriesTotal *prometheus.CounterVec
	FindLatency      *prometheus.HistogramVec
	FindResultsCount prometheus.Histogram
	PairsTotal       prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	DocumentsInsertedTotal *prometheus.CounterVec
	ReweightsTotal         prometheus.Counter
	ReweightDuration       prometheus.Histogram
	SnapshotsTotal         *prometheus.CounterVec
	SnapshotBytes          prometheus.Gauge
	DatabaseDocuments      prometheus.Gauge
	DatabaseUnweighted     prometheus.Gauge
	DatabaseGeneration     prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
		),
		FindQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voctree_find_queries_total",
				Help: "Find queries by scoring method and outcome (ok, empty, error).",
			},
			[]string{"scoring", "result"},
		),
		FindLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voctree_find_latency_seconds",
				Help:    "Find latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		FindResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voctree_find_results_count",
				Help:    "Number of matches returned per find.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		PairsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voctree_pairs_total",
				Help: "Image pairs produced by pair generation.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		DocumentsInsertedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voctree_documents_inserted_total",
				Help: "Document insert attempts by status (inserted, duplicate, rejected).",
			},
			[]string{"status"},
		),
		ReweightsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voctree_reweights_total",
				Help: "TF-IDF weight recomputations.",
			},
		),
		ReweightDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voctree_reweight_duration_seconds",
				Help:    "Time spent recomputing TF-IDF weights.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voctree_snapshots_total",
				Help: "Snapshot writes by status.",
			},
			[]string{"status"},
		),
		SnapshotBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voctree_snapshot_bytes",
				Help: "Size of the most recent snapshot.",
			},
		),
		DatabaseDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voctree_documents",
				Help: "Documents held by the database.",
			},
		),
		DatabaseUnweighted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voctree_documents_unweighted",
				Help: "Documents inserted since the last weight computation.",
			},
		),
		DatabaseGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voctree_weights_generation",
				Help: "Generation of the active weight table.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.FindQueriesTotal,
		m.FindLatency,
		m.FindResultsCount,
		m.PairsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocumentsInsertedTotal,
		m.ReweightsTotal,
		m.ReweightDuration,
		m.SnapshotsTotal,
		m.SnapshotBytes,
		m.DatabaseDocuments,
		m.DatabaseUnweighted,
		m.DatabaseGeneration,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
