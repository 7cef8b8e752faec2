package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the lifecycle state machine. All methods are nil-safe so
// callers can run without a registry in tests.
type Metrics struct {
	created     prometheus.Counter
	transitions *prometheus.CounterVec
	rejected    prometheus.Counter
	conflicts   prometheus.Counter
	overrides   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_applications_created_total",
			Help: "Applications created in draft.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_stage_transitions_total",
			Help: "Successful stage transitions by edge.",
		}, []string{"from", "to"}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_applications_rejected_total",
			Help: "Applications moved to the rejected terminal stage.",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_transition_conflicts_total",
			Help: "Optimistic concurrency losses on advance or reject.",
		}),
		overrides: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_stage_overrides_total",
			Help: "Manual stage overrides outside the forward graph.",
		}),
	}
}

func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) IncOverride() {
	if m == nil {
		return
	}
	m.overrides.Inc()
}
