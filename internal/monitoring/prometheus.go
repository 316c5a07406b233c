// Package monitoring provides Prometheus self-metrics for remedy-core.
//
// Setup once in main:
//
//	router := gin.New()
//	monitoring.SetupPrometheusMetrics(router)
//	router.Use(monitoring.HTTPMetricsMiddleware())
//
// Then record from components:
//
//	monitoring.RecordCacheOperation("get", "hit")
//	monitoring.RecordDBOperation("select", "incidents", elapsed, true)
//	monitoring.RecordLLMCall("openai", elapsed, true)
//	monitoring.RecordIncidentOutcome("resolved")
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remedy_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_cache_operations_total",
			Help: "Shared cache operations by result",
		},
		[]string{"operation", "result"},
	)

	dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_db_operations_total",
			Help: "Datastore operations by table and status",
		},
		[]string{"operation", "table", "status"},
	)

	dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remedy_core_db_operation_duration_seconds",
			Help:    "Datastore operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	metricQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_metric_backend_queries_total",
			Help: "Metric backend queries by type and status",
		},
		[]string{"query_type", "status"},
	)

	metricQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remedy_core_metric_backend_query_duration_seconds",
			Help:    "Metric backend query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_llm_calls_total",
			Help: "Language model calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remedy_core_llm_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_incidents_created_total",
			Help: "Incidents created by severity",
		},
		[]string{"severity"},
	)

	incidentsDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_incidents_deduplicated_total",
			Help: "Incidents collapsed into existing ones by match layer",
		},
		[]string{"layer"},
	)

	incidentOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_incident_outcomes_total",
			Help: "Terminal incident outcomes",
		},
		[]string{"status"},
	)

	actionExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_action_executions_total",
			Help: "Remediation action executions by type, mode and status",
		},
		[]string{"action_type", "mode", "status"},
	)

	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_rate_limit_decisions_total",
			Help: "Rate limiter decisions by limiter and outcome",
		},
		[]string{"limiter", "decision"},
	)

	degradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remedy_core_degradations_total",
			Help: "Degraded-mode fallbacks by component",
		},
		[]string{"component"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remedy_core_build_info",
			Help: "Build information",
		},
		[]string{"version", "component"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		cacheOperationsTotal,
		dbOperationsTotal,
		dbOperationDuration,
		metricQueriesTotal,
		metricQueryDuration,
		llmCallsTotal,
		llmCallDuration,
		incidentsCreatedTotal,
		incidentsDedupedTotal,
		incidentOutcomesTotal,
		actionExecutionsTotal,
		rateLimitDecisionsTotal,
		degradationsTotal,
		buildInfo,
	)
}

// SetupPrometheusMetrics registers the /metrics endpoint.
func SetupPrometheusMetrics(router *gin.Engine, version string) {
	buildInfo.WithLabelValues(version, "remedy-core").Set(1)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware records request counts and latency per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}

func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordDBOperation(operation, table string, elapsed time.Duration, success bool) {
	dbOperationsTotal.WithLabelValues(operation, table, statusLabel(success)).Inc()
	dbOperationDuration.WithLabelValues(operation, table).Observe(elapsed.Seconds())
}

func RecordMetricQuery(queryType string, elapsed time.Duration, success bool) {
	metricQueriesTotal.WithLabelValues(queryType, statusLabel(success)).Inc()
	metricQueryDuration.WithLabelValues(queryType).Observe(elapsed.Seconds())
}

func RecordLLMCall(provider string, elapsed time.Duration, success bool) {
	llmCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func RecordIncidentCreated(severity string) {
	incidentsCreatedTotal.WithLabelValues(severity).Inc()
}

// RecordIncidentDeduplicated counts a collapse into an existing incident.
// layer is "exact" or "fuzzy".
func RecordIncidentDeduplicated(layer string) {
	incidentsDedupedTotal.WithLabelValues(layer).Inc()
}

func RecordIncidentOutcome(status string) {
	incidentOutcomesTotal.WithLabelValues(status).Inc()
}

func RecordActionExecution(actionType, mode, status string) {
	actionExecutionsTotal.WithLabelValues(actionType, mode, status).Inc()
}

func RecordRateLimitDecision(limiter, decision string) {
	rateLimitDecisionsTotal.WithLabelValues(limiter, decision).Inc()
}

// RecordDegradation counts a fallback to a local degraded mode, e.g. the
// monitor losing the shared cache.
func RecordDegradation(component string) {
	degradationsTotal.WithLabelValues(component).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
