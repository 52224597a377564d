package host

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "worldhost"

type Metrics struct {
	Rooms      prometheus.Gauge
	Players    prometheus.Gauge
	Dropped    *prometheus.CounterVec
	Overflows  prometheus.Counter
	Transports *prometheus.CounterVec
	Failures   *prometheus.CounterVec
}

// NewMetrics registers the host metrics in reg.
// A nil reg gives unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms", Help: "Open rooms.",
		}),
		Players: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "players", Help: "Joined players.",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_messages_total", Help: "Rejected inbound messages.",
		}, []string{"reason"}),
		Overflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "overflow_disconnects_total", Help: "Players disconnected for a full queue.",
		}),
		Transports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transports_total", Help: "SFU transports by event.",
		}, []string{"event"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "negotiation_failures_total", Help: "Failed SFU operations.",
		}, []string{"op"}),
	}
}
