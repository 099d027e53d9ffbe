// Package metrics registers the engine's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragcore_sessions_active",
			Help: "Number of live sessions",
		},
	)

	SessionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_sessions_evicted_total",
			Help: "Total number of sessions evicted",
		},
		[]string{"reason"},
	)

	// Ingestion metrics
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_documents_ingested_total",
			Help: "Total number of documents processed by the ingestion pipeline",
		},
		[]string{"status"},
	)

	ChunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_chunks_indexed_total",
			Help: "Total number of embedded chunks appended to session indexes",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_ingest_duration_seconds",
			Help:    "End-to-end ingestion pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_embedding_retries_total",
			Help: "Total number of retried embedding provider calls",
		},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Vector search metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_vector_search_total",
			Help: "Total number of vector index searches",
		},
		[]string{"status"},
	)

	VectorSearchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// Query metrics
	QueriesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_queries_started_total",
			Help: "Total number of query streams started",
		},
		[]string{"strategy"},
	)

	QueryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_query_events_total",
			Help: "Total number of query events emitted by type",
		},
		[]string{"type"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_query_duration_seconds",
			Help:    "Query stream duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	GenerationTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_generation_tokens_used",
			Help:    "Tokens used per generation call",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
)

// RecordEmbedding records one embedding provider call.
func RecordEmbedding(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearch records one index search.
func RecordVectorSearch(status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.Observe(durationSeconds)
	}
}

// RecordQuery records a completed query stream.
func RecordQuery(strategy string, durationSeconds float64, tokensUsed int) {
	QueryDuration.WithLabelValues(strategy).Observe(durationSeconds)
	if tokensUsed > 0 {
		GenerationTokensUsed.Observe(float64(tokensUsed))
	}
}
