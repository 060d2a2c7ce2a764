package realtime

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	State      prometheus.Gauge
	Reconnects prometheus.Counter
	Events     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mis_realtime_state",
			Help: "Listener state: 0 disconnected, 1 connecting, 2 subscribed.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_realtime_reconnects_total",
			Help: "Successful resubscriptions after a dropped connection.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mis_realtime_events_total",
			Help: "Change events applied to the cache, by table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.State, m.Reconnects, m.Events)
	}
	return m
}
