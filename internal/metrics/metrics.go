package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "civicdata_build_info",
			Help: "Build information of the civicdata service",
		},
		[]string{"version", "commit", "date"},
	)

	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdata_questions_total",
			Help: "Total number of questions processed, by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicdata_stage_duration_seconds",
			Help:    "Duration of each question pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"stage"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdata_llm_calls_total",
			Help: "Total number of structured model calls",
		},
		[]string{"purpose", "status"},
	)

	RankerFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civicdata_ranker_fallbacks_total",
			Help: "Total number of rankings that fell back to retrieval order",
		},
	)

	SessionTablesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "civicdata_session_tables_open",
			Help: "Number of session tables currently loaded",
		},
	)

	CSVBytesLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civicdata_csv_bytes_loaded_total",
			Help: "Total bytes of CSV read into session tables",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdata_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civicdata_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdata_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicdata_mcp_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"tool_name"},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdata_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)
)
