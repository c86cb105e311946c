// Package metrics exposes Prometheus instrumentation for the MCP engine:
// driver state, call latency, and retry/reconnect-storm counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts CallTool invocations reported through RecordCall.
	// The facade does not call RecordCall, so its calls are not counted.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "calls_total",
			Help:      "Total CallTool invocations",
		},
		[]string{"server_id", "tool_name", "status"},
	)

	// CallDuration measures CallTool latency reported through RecordCall.
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "call_duration_seconds",
			Help:      "CallTool duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"server_id", "tool_name"},
	)

	// DriverState reports the current lifecycle state per server id: one
	// gauge per state, set to 1 for the active state and 0 for the rest.
	DriverState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "driver_state",
			Help:      "Current driver state per server id (1 = active state)",
		},
		[]string{"server_id", "state"},
	)

	// ConsecutiveFailures mirrors the retry supervisor's failure counter,
	// the Testable Property in spec §8.6's reconnect-storm concern.
	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "consecutive_failures",
			Help:      "Consecutive connection failures per server id",
		},
		[]string{"server_id"},
	)

	// SuppressedReconnects counts rebuild attempts the supervisor refused
	// because the backoff window had not elapsed or the clamp was hit.
	SuppressedReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "suppressed_reconnects_total",
			Help:      "Reconnect attempts suppressed by the retry supervisor",
		},
		[]string{"server_id"},
	)

	// DispatchTurnsTotal counts completed dispatch loop turns by outcome.
	DispatchTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "mcp_gateway",
			Name:      "dispatch_turns_total",
			Help:      "Total dispatch loop turns by terminal outcome",
		},
		[]string{"outcome"},
	)
)

// RecordCall records one CallTool invocation's outcome and latency.
func RecordCall(serverID, toolName, status string, durationSec float64) {
	CallsTotal.WithLabelValues(serverID, toolName, status).Inc()
	CallDuration.WithLabelValues(serverID, toolName).Observe(durationSec)
}

// SetDriverState zeroes every other known state gauge for serverID and
// sets the current one, so a dashboard's "state == 1" query always has
// exactly one match per server id.
func SetDriverState(serverID string, states []string, current string) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1.0
		}
		DriverState.WithLabelValues(serverID, s).Set(value)
	}
}

// SetConsecutiveFailures mirrors the supervisor's per-id counter.
func SetConsecutiveFailures(serverID string, count int) {
	ConsecutiveFailures.WithLabelValues(serverID).Set(float64(count))
}

// RecordSuppressedReconnect records a rebuild attempt the supervisor
// refused (backoff not elapsed, or clamped at 10 consecutive failures).
func RecordSuppressedReconnect(serverID string) {
	SuppressedReconnects.WithLabelValues(serverID).Inc()
}

// RecordDispatchTurn records one dispatch loop turn's terminal outcome
// ("complete", "error", or "stopped").
func RecordDispatchTurn(outcome string) {
	DispatchTurnsTotal.WithLabelValues(outcome).Inc()
}
