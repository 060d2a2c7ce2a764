package cache

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Invalidations prometheus.Counter
	FetchErrors   prometheus.Counter
	Discarded     prometheus.Counter
}

// NewMetrics builds the cache counters and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_cache_hits_total",
			Help: "Reads served from a fresh cache entry.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_cache_misses_total",
			Help: "Reads that required a fetch or joined one in flight.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_cache_invalidations_total",
			Help: "Entries marked stale.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_cache_fetch_errors_total",
			Help: "Fetches that failed.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mis_cache_discarded_results_total",
			Help: "Fetch results dropped because a newer request superseded them.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Invalidations, m.FetchErrors, m.Discarded)
	}
	return m
}
