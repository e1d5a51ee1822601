// ABOUTME: Prometheus metrics for registry load/evict/call activity.
// ABOUTME: Registered once by the server wiring via RegisterMetrics.

package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	clientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mumu_mcp_clients_active",
			Help: "Number of live MCP clients in the registry",
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mumu_mcp_plugin_loads_total",
			Help: "Total plugin load attempts by outcome",
		},
		[]string{"outcome"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mumu_mcp_plugin_evictions_total",
			Help: "Total entries removed by capacity (lru) or idle TTL (expired)",
		},
		[]string{"reason"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mumu_mcp_tool_calls_total",
			Help: "Total tool invocations by outcome",
		},
		[]string{"outcome"},
	)

	toolCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mumu_mcp_tool_call_duration_seconds",
			Help:    "Wall time of tool invocations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// RegisterMetrics registers the registry's metrics with r.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(clientsActive, loadsTotal, evictionsTotal, toolCallsTotal, toolCallDuration)
}

func observeLoad(ok bool) {
	if ok {
		loadsTotal.WithLabelValues("ok").Inc()
	} else {
		loadsTotal.WithLabelValues("failed").Inc()
	}
}

func observeToolCall(start time.Time, err error) {
	toolCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		toolCallsTotal.WithLabelValues("error").Inc()
	} else {
		toolCallsTotal.WithLabelValues("ok").Inc()
	}
}
