package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit trail. The fallback and drop
// counters are the alert surface for "a missed audit write happened".
type Metrics struct {
	Recorded        *prometheus.CounterVec
	FallbackQueued  prometheus.Counter
	FallbackFlushed prometheus.Counter
	Dropped         prometheus.Counter
}

// New creates and registers all audit metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Recorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_audit_events_recorded_total",
			Help: "Audit events appended successfully, by entity type and action",
		}, []string{"entity_type", "action"}),
		FallbackQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_audit_fallback_total",
			Help: "Audit events diverted to the local fallback queue after a store failure",
		}),
		FallbackFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_audit_fallback_flushed_total",
			Help: "Fallback-queued audit events eventually persisted",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_audit_events_dropped_total",
			Help: "Audit events lost because the fallback queue was full; alertable",
		}),
	}
}

func (m *Metrics) IncRecorded(entityType, action string) {
	if m != nil {
		m.Recorded.WithLabelValues(entityType, action).Inc()
	}
}

func (m *Metrics) IncFallbackQueued() {
	if m != nil {
		m.FallbackQueued.Inc()
	}
}

func (m *Metrics) IncFallbackFlushed() {
	if m != nil {
		m.FallbackFlushed.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}
