package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	changeEventsTotal     *prometheus.CounterVec
	messagesSentTotal     prometheus.Counter
	reactionsToggledTotal *prometheus.CounterVec
	presenceTracksTotal   prometheus.Counter
	streamClientsActive   prometheus.Gauge
	roomsJoinedTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		changeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_change_events_total",
			Help: "Total number of change events published to the room feed.",
		}, []string{"table", "type"})

		messagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_messages_sent_total",
			Help: "Total number of chat messages accepted.",
		})

		reactionsToggledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_reactions_toggled_total",
			Help: "Total number of reaction toggles, labelled by outcome.",
		}, []string{"action"})

		presenceTracksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_presence_tracks_total",
			Help: "Total number of presence track publications.",
		})

		streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_stream_clients_active",
			Help: "Number of websocket stream clients currently connected.",
		})

		roomsJoinedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_rooms_joined_total",
			Help: "Total number of room join attempts, labelled by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			changeEventsTotal,
			messagesSentTotal,
			reactionsToggledTotal,
			presenceTracksTotal,
			streamClientsActive,
			roomsJoinedTotal,
		)
	})
}

// ChangeEvents exposes the counter for published change events.
func ChangeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return changeEventsTotal
}

// MessagesSent exposes the counter for accepted chat messages.
func MessagesSent() prometheus.Counter {
	RegisterMetrics()
	return messagesSentTotal
}

// ReactionsToggled exposes the counter for reaction toggles.
func ReactionsToggled() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionsToggledTotal
}

// PresenceTracks exposes the counter for presence publications.
func PresenceTracks() prometheus.Counter {
	RegisterMetrics()
	return presenceTracksTotal
}

// StreamClients exposes the gauge of connected stream clients.
func StreamClients() prometheus.Gauge {
	RegisterMetrics()
	return streamClientsActive
}

// RoomsJoined exposes the counter for room join attempts.
func RoomsJoined() *prometheus.CounterVec {
	RegisterMetrics()
	return roomsJoinedTotal
}
