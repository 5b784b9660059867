// Package telemetry exposes protocol counters on a Prometheus registry.
// Mount Handler() on the gateway mux to serve /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "messages_sent_total",
			Help:      "Messages transmitted, by kind.",
		},
		[]string{"node", "kind"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "messages_received_total",
			Help:      "Messages accepted after decode and addressing checks, by kind.",
		},
		[]string{"node", "kind"},
	)

	MessagesAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "messages_acked_total",
			Help:      "Outbound messages resolved by ACK or PONG.",
		},
		[]string{"node"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "retries_total",
			Help:      "Retransmissions of unacknowledged messages.",
		},
		[]string{"node"},
	)

	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "send_failures_total",
			Help:      "Messages abandoned after exhausting the retry budget.",
		},
		[]string{"node"},
	)

	DuplicatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "duplicates_dropped_total",
			Help:      "Inbound frames discarded by the dedupe window.",
		},
		[]string{"node"},
	)

	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded before classification, by reason.",
		},
		[]string{"node", "reason"},
	)

	PendingSends = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loralink",
			Name:      "pending_sends",
			Help:      "Outstanding messages awaiting acknowledgment.",
		},
		[]string{"node"},
	)

	PowerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loralink",
			Name:      "power_transitions_total",
			Help:      "Power state transitions, by target state.",
		},
		[]string{"node", "state"},
	)

	BatteryVolts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loralink",
			Name:      "battery_volts",
			Help:      "Last sampled battery voltage.",
		},
		[]string{"node"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "loralink",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesSent, MessagesReceived, MessagesAcked,
		Retries, SendFailures, DuplicatesDropped, FramesDropped,
		PendingSends, PowerTransitions, BatteryVolts, uptime,
	)
}

// Handler exposes the registry for the gateway's /metrics route.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
