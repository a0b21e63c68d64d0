package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomchat",
		Name:      "ws_sessions_active",
		Help:      "Realtime sessions currently open.",
	})

	RoomJoins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "room_joins_total",
		Help:      "Accepted join_room commands.",
	})

	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "messages_persisted_total",
		Help:      "Messages written through the broadcast router.",
	})

	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "message_persist_failures_total",
		Help:      "Sends aborted because the message could not be stored.",
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "deliveries_total",
		Help:      "receive_message enqueue attempts by outcome.",
	}, []string{"outcome"})

	FanoutSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roomchat",
		Name:      "fanout_duration_seconds",
		Help:      "Time to enqueue one message to every room member.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "events_published_total",
		Help:      "message.created events handed to the broker by result.",
	}, []string{"result"})
)

const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		RoomJoins,
		MessagesPersisted,
		PersistFailures,
		Deliveries,
		FanoutSeconds,
		EventsPublished,
	)
}
