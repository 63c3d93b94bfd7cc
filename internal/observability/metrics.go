package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// WebSocketConnectionsTotal is the gauge of open WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghostly_websocket_connections",
		Help: "Number of open WebSocket connections",
	})

	// WebSocketEventsTotal counts inbound WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_websocket_events_total",
		Help: "Total inbound WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// PresenceOnlineUsers is the gauge of bound identities.
	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghostly_presence_online_users",
		Help: "Number of identities currently bound to a connection",
	})

	// PresenceEvictions counts stale sessions closed because the same user bound a new connection.
	PresenceEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghostly_presence_evictions_total",
		Help: "Total number of connections evicted by a newer bind for the same user",
	})

	// RoomsDeleted counts room deletions by cause.
	RoomsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_rooms_deleted_total",
		Help: "Total number of rooms deleted by cause",
	}, []string{"cause"})

	// RoomTimersArmed is the gauge of pending room expiry timers.
	RoomTimersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghostly_room_timers_armed",
		Help: "Number of room expiry timers currently armed",
	})

	// SchedulerErrors counts per-room failures inside scheduler ticks.
	SchedulerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_scheduler_errors_total",
		Help: "Total number of room lifecycle scheduler failures by stage",
	}, []string{"stage"})

	// MessagesPruned counts room messages removed by the retention policy.
	MessagesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghostly_messages_pruned_total",
		Help: "Total number of room messages removed by retention",
	})

	// DirectMessages counts direct messages by delivery status.
	DirectMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostly_direct_messages_total",
		Help: "Total direct messages by delivery status",
	}, []string{"status"})

	// RoomMessages counts persisted room messages.
	RoomMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghostly_room_messages_total",
		Help: "Total room messages posted",
	})
)
