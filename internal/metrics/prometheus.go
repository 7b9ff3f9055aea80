package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/funnel-agent/backend/pkg/circuitbreaker"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_agent_query_duration_seconds",
			Help:    "Chat query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_query_total",
			Help: "Total number of chat queries processed",
		},
		[]string{"status"},
	)

	IntentsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_intents_resolved_total",
			Help: "Query plans resolved, by detected intent",
		},
		[]string{"intent"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_agent_plan_confidence",
			Help:    "Confidence of resolved query plans",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_tool_calls_total",
			Help: "Tool executions by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_agent_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"tool"},
	)

	SQLRowsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_agent_sql_rows_returned",
			Help:    "Rows returned per executed SQL statement",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"source"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_feedback_total",
			Help: "User feedback received",
		},
		[]string{"helpful"},
	)

	CatalogQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funnel_agent_catalog_queries",
			Help: "Predefined queries currently loaded in the catalog",
		},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funnel_agent_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			IntentsResolved,
			ConfidenceScore,
			ToolCalls,
			ToolDuration,
			SQLRowsReturned,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			FeedbackTotal,
			CatalogQueries,
			JobRuns,
			CircuitBreakerState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// BreakerStateChanged is a circuitbreaker.Config.OnStateChange hook.
func BreakerStateChanged(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}
