package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seqdesk_build_info",
			Help: "Build information of the seqdesk binary",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seqdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seqdesk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seqdesk_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seqdesk_tool_calls_total",
			Help: "Total number of agent tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seqdesk_tool_call_duration_seconds",
			Help:    "Duration of agent tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"tool_name"},
	)

	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seqdesk_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"outcome"},
	)

	TurnRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seqdesk_turn_rounds",
			Help:    "Model calls consumed per conversation turn",
			Buckets: prometheus.LinearBuckets(1, 1, 15),
		},
	)
)

// Turn outcome label values.
const (
	TurnOutcomeCompleted = "completed"
	TurnOutcomeDegraded  = "degraded"
	TurnOutcomeFailed    = "failed"
)
