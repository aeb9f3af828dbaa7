// Package observability provides Prometheus metrics instrumentation for the ticket core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// ROUTING METRICS
// =============================================================================

var (
	routingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_routing_runs_total",
			Help: "Total number of routing runs",
		},
		[]string{"outcome"}, // outcome: resolved, escalated, exhausted, error
	)

	routingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "udahub_routing_duration_seconds",
			Help:    "Routing run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	routingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_routing_transitions_total",
			Help: "Total routing transitions by signal and decision",
		},
		[]string{"signal", "decision"},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "udahub_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// REASONER METRICS
// =============================================================================

var (
	reasonerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_reasoner_calls_total",
			Help: "Total number of reasoning engine calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	reasonerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "udahub_reasoner_duration_seconds",
			Help:    "Reasoning engine call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// KNOWLEDGE METRICS
// =============================================================================

var (
	knowledgeSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_knowledge_searches_total",
			Help: "Total number of knowledge base searches",
		},
		[]string{"status"}, // status: success, error
	)

	knowledgeSearchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "udahub_knowledge_search_duration_seconds",
			Help:    "Knowledge base search duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
)

// =============================================================================
// STORE METRICS
// =============================================================================

var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udahub_store_operations_total",
			Help: "Total session store operations",
		},
		[]string{"operation", "status"}, // operation: load, commit, append_message, get_preferences, put_preferences
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRoutingRun records routing run metrics.
// This should be called after a routing run completes.
func RecordRoutingRun(outcome string, durationMS int) {
	routingRunsTotal.WithLabelValues(outcome).Inc()
	routingDurationSeconds.WithLabelValues(outcome).Observe(float64(durationMS) / 1000.0)
}

// RecordRoutingTransition records a single routing decision.
func RecordRoutingTransition(signal string, decision string) {
	routingTransitionsTotal.WithLabelValues(signal, decision).Inc()
}

// RecordStageExecution records stage execution metrics.
// This should be called after stage processing completes.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordReasonerCall records reasoning engine call metrics.
// This should be called after generation completes.
func RecordReasonerCall(provider string, model string, status string, durationMS int) {
	reasonerCallsTotal.WithLabelValues(provider, model, status).Inc()
	reasonerDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordKnowledgeSearch records knowledge base search metrics.
func RecordKnowledgeSearch(status string, durationMS int) {
	knowledgeSearchesTotal.WithLabelValues(status).Inc()
	knowledgeSearchDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordStoreOperation records a session store operation.
func RecordStoreOperation(operation string, status string) {
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}
