package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "pipeline_runs_total", Help: "Pipeline runs by outcome"},
		[]string{"outcome"},
	)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_pooling",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	StageItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "stage_items_total", Help: "Items produced per pipeline stage"},
		[]string{"stage"},
	)
	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "stage_failures_total", Help: "Pipeline stage failures"},
		[]string{"stage"},
	)
	RemindersFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "reminders_failed_total", Help: "Reminders that could not be scheduled"})
	PoolsServed     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "pools_served_total", Help: "Pools returned by the lookup API"},
		[]string{"day"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_pooling",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
