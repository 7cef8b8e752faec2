package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the issuance service. Nil-safe.
type Metrics struct {
	issued        *prometheus.CounterVec
	alreadyIssued prometheus.Counter
	codeRedraws   prometheus.Counter
	revoked       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		issued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cachet_documents_issued_total",
			Help: "Documents issued by application type.",
		}, []string{"type"}),
		alreadyIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_documents_already_issued_total",
			Help: "Issue calls answered with the existing document.",
		}),
		codeRedraws: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_verification_code_redraws_total",
			Help: "Verification codes regenerated after a uniqueness collision.",
		}),
		revoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "cachet_documents_revoked_total",
			Help: "Documents revoked.",
		}),
	}
}

func (m *Metrics) IncIssued(docType string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(docType).Inc()
}

func (m *Metrics) IncAlreadyIssued() {
	if m == nil {
		return
	}
	m.alreadyIssued.Inc()
}

func (m *Metrics) IncCodeRedraw() {
	if m == nil {
		return
	}
	m.codeRedraws.Inc()
}

func (m *Metrics) IncRevoked() {
	if m == nil {
		return
	}
	m.revoked.Inc()
}
