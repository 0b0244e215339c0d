// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the process's prometheus gauges/counters
// (SPEC_FULL domain-stack item 7): purely additive observability wired
// into internal/conn, internal/queue, and internal/exchange.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector crossdesk registers. Callers build
// one with New, register it against their own *prometheus.Registry (or
// the default one), and pass it down to the components that report
// through it.
type Metrics struct {
	ConnectedPeers     prometheus.Gauge
	ActiveScreenChanges prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
	HeartbeatRTT       prometheus.Histogram
	HandshakeFailures  *prometheus.CounterVec
	BytesSent          *prometheus.CounterVec
}

// New constructs the collector set without registering it.
func New(namespace string) *Metrics {
	return &Metrics{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Number of peers currently connected.",
		}),
		ActiveScreenChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "active_screen_changes_total",
			Help:      "Number of times input ownership moved to a different screen.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ordered_queue_depth",
			Help:      "Buffered message count in the ordered-delivery queue, per worker.",
		}, []string{"worker"}),
		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_rtt_seconds",
			Help:      "Time to hand a COMMAND-substream heartbeat to the transport (send latency, not a round trip).",
			Buckets:   prometheus.DefBuckets,
		}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Handshake failures, labeled by reason.",
		}, []string{"reason"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes sent, labeled by substream type.",
		}, []string{"stream_type"}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error (the same pattern as every other
// package-level prometheus setup in the ecosystem).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ConnectedPeers,
		m.ActiveScreenChanges,
		m.QueueDepth,
		m.HeartbeatRTT,
		m.HandshakeFailures,
		m.BytesSent,
	)
}
