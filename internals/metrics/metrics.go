// Package metrics exposes the ambient Prometheus surface: gauges and
// counters fed from Room, Peer and the signaling layer, scraped over
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_rooms",
		Help: "Number of rooms currently registered",
	})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_active_peers",
		Help: "Number of peers currently admitted across all rooms",
	})

	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_signal_messages_sent_total",
		Help: "Total signaling messages written to peers",
	})

	MessagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_signal_messages_received_total",
		Help: "Total signaling messages read from peers",
	})

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_pli_requests_total",
		Help: "Total Picture Loss Indication requests sent",
	})

	PacketLossRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_packet_loss_ratio",
		Help: "Most recently observed inbound packet loss ratio per peer",
	}, []string{"peer"})

	JitterMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfu_jitter_ms",
		Help:    "Observed jitter in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200},
	}, []string{"peer"})

	RttMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfu_rtt_ms",
		Help:    "Observed round-trip time in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000},
	}, []string{"peer"})

	GoroutinesPerRoom = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_goroutines_per_room",
		Help: "Number of peers in a room, as last sampled by its stats collector",
	}, []string{"room"})
)

func RecordPLI() {
	PLIRequestsTotal.Inc()
}
