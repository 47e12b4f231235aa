// Package media collects ambient WebRTC connection-quality telemetry: a
// per-room ticker that polls every peer's PeerConnection stats and feeds the
// Prometheus gauges in internals/metrics.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/metrics"
	"github.com/huddlertc/sfu/internals/room"
)

const defaultInterval = 5 * time.Second

// StatsCollector periodically polls every peer in a room and records its
// packet loss, jitter and round-trip time.
type StatsCollector struct {
	room     *room.Room
	logger   *zap.Logger
	interval time.Duration
}

// NewStatsCollector creates a collector for r using the default poll
// interval.
func NewStatsCollector(r *room.Room, logger *zap.Logger) *StatsCollector {
	return &StatsCollector{room: r, logger: logger, interval: defaultInterval}
}

// Run polls until ctx is done. It is meant to be run in its own goroutine
// for the lifetime of the room.
func (c *StatsCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectOnce()
		}
	}
}

func (c *StatsCollector) collectOnce() {
	peers := c.room.Snapshot()
	metrics.GoroutinesPerRoom.WithLabelValues(fmt.Sprintf("%d", c.room.ID)).Set(float64(len(peers)))

	for id, p := range peers {
		label := fmt.Sprintf("%d", id)
		stats := p.Stats()

		var packetsReceived, packetsLost uint64
		var jitter float64
		var rtt float64

		for _, s := range stats {
			switch v := s.(type) {
			case webrtc.InboundRTPStreamStats:
				packetsReceived += uint64(v.PacketsReceived)
				packetsLost += uint64(v.PacketsLost)
				if v.Jitter > jitter {
					jitter = v.Jitter
				}
			case webrtc.RemoteInboundRTPStreamStats:
				if v.RoundTripTime > rtt {
					rtt = v.RoundTripTime
				}
			}
		}

		total := packetsReceived + packetsLost
		var lossRatio float64
		if total > 0 {
			lossRatio = float64(packetsLost) / float64(total)
		}

		metrics.PacketLossRatio.WithLabelValues(label).Set(lossRatio)
		metrics.JitterMs.WithLabelValues(label).Observe(jitter * 1000)
		metrics.RttMs.WithLabelValues(label).Observe(rtt * 1000)
	}
}
