package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the public verification path. Nil-safe.
type Metrics struct {
	lookups     *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_verification_lookups_total",
			Help: "Verification lookups by method and internal outcome.",
		}, []string{"method", "outcome"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_verification_rate_limited_total",
			Help: "Lookups refused by the per-source rate limit.",
		}),
	}
}

func (m *Metrics) IncLookup(method, outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
