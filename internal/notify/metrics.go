package notify

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Emails *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mis_notification_emails_total",
			Help: "Notification emails by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Emails)
	}
	return m
}
