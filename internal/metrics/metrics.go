// Package metrics exposes the orchestrator's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolSize tracks the number of live processes in the pool
	PoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iris_pool_size",
			Help: "Number of agent processes currently in the pool",
		},
	)

	// PoolEvictions counts LRU evictions
	PoolEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iris_pool_evictions_total",
			Help: "Total number of processes evicted from the pool",
		},
		[]string{"reason"},
	)

	// TellsTotal counts tell requests by outcome
	TellsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iris_tells_total",
			Help: "Total number of tell requests",
		},
		[]string{"to_team", "outcome"},
	)

	// TellDuration tracks how long synchronous tells take
	TellDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iris_tell_duration_seconds",
			Help:    "Tell round-trip duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"to_team"},
	)

	// FramesTotal counts agent stream frames by type
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iris_frames_total",
			Help: "Total number of agent stream frames received",
		},
		[]string{"type"},
	)

	// QueueDepth tracks the async queue backlog
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iris_queue_depth",
			Help: "Number of tasks waiting in the async queue",
		},
	)

	// SessionsBootstrapped counts freshly created sessions
	SessionsBootstrapped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_sessions_bootstrapped_total",
			Help: "Total number of sessions created and bootstrapped",
		},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iris_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
