package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the cross-validation orchestrator. Nil-safe.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	shed      *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	tolerated *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_validation_outcomes_total",
			Help: "Normalized validator outcomes by kind and result.",
		}, []string{"kind", "result"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_validation_outcome_reuse_total",
			Help: "Validate calls answered from the stored aggregate.",
		}, []string{"stage"}),
		shed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_validation_shed_total",
			Help: "Validator calls shed by an open circuit breaker.",
		}, []string{"validator"}),
		exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_validation_retries_exhausted_total",
			Help: "Validator calls that failed every attempt.",
		}, []string{"validator"}),
		tolerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_validation_outage_tolerated_total",
			Help: "Hard errors answered from a prior verified result.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncOutcome(kind, result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncCacheHit(stage string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncShed(validator string) {
	if m == nil {
		return
	}
	m.shed.WithLabelValues(validator).Inc()
}

func (m *Metrics) IncExhausted(validator string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(validator).Inc()
}

func (m *Metrics) IncOutageTolerated(kind string) {
	if m == nil {
		return
	}
	m.tolerated.WithLabelValues(kind).Inc()
}
