package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_queries_total",
			Help: "Total number of multi-agent queries",
		},
		[]string{"strategy", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiagent_query_duration_seconds",
			Help:    "Multi-agent query duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"strategy"},
	)

	StrategySelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_strategy_selections_total",
			Help: "Strategy chosen per query and whether it came from a hint or the selector",
		},
		[]string{"strategy", "source"},
	)

	// Agent metrics
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_agent_calls_total",
			Help: "Total number of per-agent RAG calls",
		},
		[]string{"strategy", "status"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiagent_agent_call_duration_seconds",
			Help:    "Per-agent RAG call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	// Integration metrics
	ResponsesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_responses_filtered_total",
			Help: "Agent responses excluded from synthesis by reason",
		},
		[]string{"reason"},
	)

	ConflictsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multiagent_conflicts_total",
			Help: "Queries where agents reported differing numeric totals",
		},
	)

	Syntheses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_syntheses_total",
			Help: "Synthesis outcomes by mode",
		},
		[]string{"mode", "outcome"},
	)

	// Session history metrics
	HistoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_history_operations_total",
			Help: "Conversation history cache operations",
		},
		[]string{"op", "result"},
	)

	// Join-key metrics
	JoinKeyDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_joinkey_detections_total",
			Help: "Join-key detection runs by outcome",
		},
		[]string{"outcome"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_jobs_processed_total",
			Help: "Background jobs processed by type and status",
		},
		[]string{"type", "status"},
	)

	// Collaborator metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_vector_requests_total",
			Help: "Total number of vector store requests",
		},
		[]string{"operation", "collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiagent_vector_request_latency_seconds",
			Help:    "Vector store request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiagent_embedding_latency_seconds",
			Help:    "Embedding request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_completion_requests_total",
			Help: "Total number of chat completion requests",
		},
		[]string{"model", "status"},
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiagent_completion_latency_seconds",
			Help:    "Chat completion latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiagent_retry_attempts_total",
			Help: "Retries performed against external collaborators",
		},
		[]string{"operation"},
	)
)

// RecordQueryMetrics records a finished query
func RecordQueryMetrics(strategy, status string, durationSeconds float64) {
	QueriesTotal.WithLabelValues(strategy, status).Inc()
	if durationSeconds > 0 {
		QueryDuration.WithLabelValues(strategy).Observe(durationSeconds)
	}
}

// RecordAgentCall records one per-agent RAG call
func RecordAgentCall(strategy, status string, durationSeconds float64) {
	AgentCalls.WithLabelValues(strategy, status).Inc()
	AgentCallDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// RecordVectorMetrics records a vector store request
func RecordVectorMetrics(operation, collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(operation, collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(operation, collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records an embedding lookup (cache hits carry zero latency)
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordCompletionMetrics records a chat completion request
func RecordCompletionMetrics(model, status string, durationSeconds float64) {
	CompletionRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		CompletionLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
