package hub

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Connections prometheus.Gauge
	Events      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mis_realtime_connections",
			Help: "Open realtime websocket connections.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mis_realtime_events_total",
			Help: "Change events delivered to the local hub.",
		}, []string{"table", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Events)
	}
	return m
}
