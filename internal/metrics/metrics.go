// Package metrics provides Prometheus instrumentation for the sync daemon:
// gauges for open rooms and presence, counters for message and notification
// throughput, and histograms for completion latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpenRooms tracks the number of room sessions currently active.
	OpenRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vortex_open_rooms",
		Help: "Number of room sessions currently active",
	})

	// MessagesAppended counts messages appended to in-memory room state,
	// labeled by origin: "self", "peer", or "duplicate" (dropped repeats).
	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_messages_appended_total",
		Help: "Messages appended to room state",
	}, []string{"origin"})

	// NotificationsRaised counts local notifications, labeled by kind:
	// "chat" or "digest".
	NotificationsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_notifications_total",
		Help: "Local notifications raised by the global listener",
	}, []string{"kind"})

	// NotificationsDropped counts inserts the global listener discarded,
	// labeled by reason: "self" or "not_member".
	NotificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_notifications_dropped_total",
		Help: "Global-listener inserts discarded before notifying",
	}, []string{"reason"})

	// TypingEvents counts typing broadcasts sent and received.
	TypingEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_typing_events_total",
		Help: "Typing broadcasts processed",
	}, []string{"direction"}) // direction = "sent", "received"

	// PresenceUsers tracks the size of the last presence snapshot per room.
	PresenceUsers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vortex_presence_users",
		Help: "Users in the most recent presence snapshot",
	}, []string{"room"})

	// MembershipRefreshes counts membership cache refreshes by result.
	MembershipRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_membership_refreshes_total",
		Help: "Membership cache refresh attempts",
	}, []string{"result"}) // result = "ok", "error"

	// CompletionCalls counts AI completion dispatches by result:
	// "ok", "timeout", "service_error", "network_error", "rate_limited".
	CompletionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortex_completion_calls_total",
		Help: "AI completion dispatches",
	}, []string{"result"})

	// CompletionLatency records completion round-trip time in seconds.
	CompletionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vortex_completion_latency_seconds",
		Help:    "AI completion round-trip latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
	})
)

func init() {
	prometheus.MustRegister(
		OpenRooms,
		MessagesAppended,
		NotificationsRaised,
		NotificationsDropped,
		TypingEvents,
		PresenceUsers,
		MembershipRefreshes,
		CompletionCalls,
		CompletionLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
