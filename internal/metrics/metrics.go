// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal 记录 HTTP 请求的总数
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// SamplesTotal counts sample indices accumulated by the leader, by the rank that evaluated them.
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadrature_samples_total",
			Help: "Total number of sample contributions accumulated, by evaluating rank.",
		},
		[]string{"rank"},
	)

	// RoundTripSeconds observes the leader's blocking send/receive per delegated sample.
	RoundTripSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quadrature_round_trip_seconds",
			Help:    "Latency of one work item round trip from leader to worker and back.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"rank"},
	)

	// WorkItemsServed counts work items a worker answered.
	WorkItemsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadrature_work_items_served_total",
			Help: "Total number of work items evaluated by a worker.",
		},
		[]string{"rank"},
	)

	// RunsTotal counts dispatch runs by outcome (success/failed/locked), plus
	// successful runs that left a worker without its shutdown (shutdown_incomplete).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadrature_runs_total",
			Help: "Total number of dispatch runs.",
		},
		[]string{"status"},
	)

	// LastEstimate holds the estimate of the most recent successful run.
	LastEstimate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quadrature_last_estimate",
			Help: "Estimate reported by the most recent successful run.",
		},
	)
)
