// Package metrics defines the Prometheus metric collectors used by the merge
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the search node.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PostingsInserted     *prometheus.CounterVec
	PostingsDuplicate    prometheus.Counter
	PostingsInvalid      prometheus.Counter
	SourceFailures       *prometheus.CounterVec
	BatchMergeLatency    *prometheus.HistogramVec
	ActiveSessions       prometheus.Gauge
	DomainRankHits       *prometheus.CounterVec
	RelatedTerms         prometheus.Counter
	PeerCacheHits        prometheus.Counter
	PeerCacheMisses      prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
	KafkaMessages        *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
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
		PostingsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_postings_inserted_total",
				Help: "Postings accepted into a result container by provenance (local, remote).",
			},
			[]string{"provenance"},
		),
		PostingsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "merge_postings_duplicate_total",
				Help: "Postings rejected because their url hash was already present.",
			},
		),
		PostingsInvalid: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "merge_postings_invalid_total",
				Help: "Postings rejected as malformed.",
			},
		),
		SourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merge_source_failures_total",
				Help: "Posting sources that failed or timed out, by source name.",
			},
			[]string{"source"},
		),
		BatchMergeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "merge_batch_latency_seconds",
				Help:    "Time spent merging one batch into the session container.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"mode"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "merge_active_sessions",
				Help: "Number of merge sessions currently running.",
			},
		),
		DomainRankHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainrank_lookups_total",
				Help: "Domain popularity lookups by resulting class.",
			},
			[]string{"class"},
		),
		RelatedTerms: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "merge_related_terms_total",
				Help: "Related terms returned to clients.",
			},
		),
		PeerCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peer_cache_hits_total",
				Help: "Peer batches served from the Redis cache.",
			},
		),
		PeerCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peer_cache_misses_total",
				Help: "Peer batches fetched over the wire.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		KafkaMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_total",
				Help: "Kafka messages by topic and outcome (published, publish_failed, encode_failed, processed, malformed, failed).",
			},
			[]string{"topic", "outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PostingsInserted,
		m.PostingsDuplicate,
		m.PostingsInvalid,
		m.SourceFailures,
		m.BatchMergeLatency,
		m.ActiveSessions,
		m.DomainRankHits,
		m.RelatedTerms,
		m.PeerCacheHits,
		m.PeerCacheMisses,
		m.CircuitBreakerState,
		m.KafkaMessages,
	)

	return m
}

// Handler serves the collectors gathered by g. Gathering errors are logged
// and the remaining families are still served.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().With("component", "metrics").Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}
