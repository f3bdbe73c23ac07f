package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	connections      prometheus.Gauge
	rooms            prometheus.Gauge
	frames           *prometheus.CounterVec
	relayMisses      prometheus.Counter
	deliveryFailures prometheus.Counter
	rejections       *prometheus.CounterVec
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomrelay",
			Name:      "connections",
			Help:      "Admitted websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomrelay",
			Name:      "rooms",
			Help:      "Rooms with at least one live member.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "frames_total",
			Help:      "Inbound frames by kind.",
		}, []string{"kind"}),
		relayMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "relay_misses_total",
			Help:      "Signaling frames addressed to an absent username.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "delivery_failures_total",
			Help:      "Outbound frames dropped because a recipient could not keep up.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "handshake_rejections_total",
			Help:      "Connections refused during the handshake, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.connections, m.rooms, m.frames, m.relayMisses, m.deliveryFailures, m.rejections)
	return m
}
