package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wmapp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	// QuotaDecisions counts admission outcomes by tier and result
	// (allowed, daily, monthly, degraded, error).
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota admission decisions",
		},
		[]string{"tier", "result"},
	)

	UsageRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "quota",
			Name:      "usage_record_failures_total",
			Help:      "Usage events that could not be persisted after a successful answer",
		},
	)

	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by the language model",
		},
		[]string{"scope"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wmapp",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"status"},
	)

	BillingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "billing",
			Name:      "events_total",
			Help:      "Billing provider notifications by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	DocumentLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmapp",
			Subsystem: "reference",
			Name:      "loads_total",
			Help:      "Reference document loads by source and status",
		},
		[]string{"source", "status"},
	)
)
