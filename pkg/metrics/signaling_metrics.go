package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signaling metrics for monitoring the real-time core: connections, fan-out,
// message relay and call lifecycle
var (
	// WebSocket connection metrics
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_ws_connections_active",
		Help: "Current number of live WebSocket sessions",
	})

	WSConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_ws_connections_total",
		Help: "Total number of accepted WebSocket sessions",
	})

	WSEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_ws_events_dropped_total",
		Help: "Total number of inbound events dropped before dispatch",
	}, []string{"reason"}) // "unknown_event", "unbound_session", "decode_error"

	// Registry metrics
	RegistryEmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_registry_emits_total",
		Help: "Total number of events emitted through the connection registry",
	}, []string{"target"}) // "identity", "scope"

	RegistryEmitNoSessionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_registry_emit_no_session_total",
		Help: "Total number of emits that found no live session for the identity",
	})

	// Message relay metrics
	MessagesRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_messages_relayed_total",
		Help: "Total number of chat messages relayed",
	})

	MessagePersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_message_persist_total",
		Help: "Total number of asynchronous message persistence attempts",
	}, []string{"status"}) // "ok", "error"

	// Call lifecycle metrics
	CallsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_calls_created_total",
		Help: "Total number of call records created",
	}, []string{"call_type"})

	CallTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_call_transitions_total",
		Help: "Total number of call status transitions",
	}, []string{"to_status"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_calls_active",
		Help: "Current number of in-memory call sessions",
	})

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signaling_call_duration_seconds",
		Help:    "Duration of ended calls",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	StaleCallEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_stale_call_events_total",
		Help: "Total number of signaling events rejected against unknown or terminal calls",
	}, []string{"event"})

	// Push notification metrics
	PushNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_push_notifications_total",
		Help: "Total number of best-effort push notifications attempted",
	}, []string{"kind", "status"})
)
