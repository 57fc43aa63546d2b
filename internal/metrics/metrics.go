// Package metrics provides Prometheus instrumentation for the support chat
// service. It exposes gauges for connection and room counts, counters for
// message throughput and failures, and a histogram for broadcast latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of open WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "support_connections_active",
		Help: "Current number of open WebSocket connections",
	})

	// RoomsActive tracks the number of rooms held by the registry, dormant
	// rooms included.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "support_rooms_active",
		Help: "Current number of rooms in the registry",
	})

	// MessagesTotal counts broadcast messages, labeled by kind: "chat" or
	// "system". Inbound messages rejected before broadcast are counted as
	// "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_messages_total",
		Help: "Total number of messages processed",
	}, []string{"kind"})

	// DeliveryFailures counts sends that failed and caused the peer to be
	// pruned from its room.
	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_delivery_failures_total",
		Help: "Total number of failed deliveries to individual connections",
	})

	// AdmissionRejections counts connections refused before reaching a room,
	// labeled by reason: "unauthorized", "blocked", "room_required",
	// "rate_limited", "capacity".
	AdmissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_admission_rejections_total",
		Help: "Total number of connections rejected at admission",
	}, []string{"reason"})

	// BroadcastDuration records how long one broadcast takes to reach every
	// admitted connection.
	BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "support_broadcast_duration_seconds",
		Help:    "Time to fan a message out to every connection in a room",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsActive,
		MessagesTotal,
		DeliveryFailures,
		AdmissionRejections,
		BroadcastDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
