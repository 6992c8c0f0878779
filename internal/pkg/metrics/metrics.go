// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Current number of registered websocket connections",
		},
	)

	ConnectionsAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_authenticated",
			Help: "Current number of connections bound to a user",
		},
	)

	ConnectRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connect_rejected_total",
			Help: "Websocket upgrades refused before registration",
		},
		[]string{"reason"}, // "rate_limited", "capacity", "upgrade"
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_closed_total",
			Help: "Connections torn down, by cause",
		},
		[]string{"cause"}, // "disconnect", "reaped", "abuse", "slow_consumer", "shutdown"
	)

	// Room Metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_rooms_active",
			Help: "Current number of non-empty rooms",
		},
	)

	// Dispatch Metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Per-connection event deliveries, by result",
		},
		[]string{"result"}, // "delivered", "failed", "skipped"
	)

	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_dispatches_total",
			Help: "Dispatch calls, by target kind",
		},
		[]string{"target"}, // "user", "room", "rooms", "all"
	)

	// Presence Metrics
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_presence_transitions_total",
			Help: "Presence status changes",
		},
		[]string{"status"},
	)

	PresenceSinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_presence_sink_dropped_total",
			Help: "Presence records dropped because the persistence queue was full",
		},
	)

	// Heartbeat Metrics
	HeartbeatSuspects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_heartbeat_suspect_total",
			Help: "Connections moved to suspect after missing the heartbeat timeout",
		},
	)

	// Bridge Metrics
	BridgeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_bridge_requests_total",
			Help: "Bridge calls from the CRUD tier, by transport, operation and outcome",
		},
		[]string{"transport", "operation", "outcome"},
	)
)

// Outcome labels a bridge request result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
