package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "caregov/pkg/domain"
)

// Metrics tracks consent registry activity.
type Metrics struct {
	Granted    *prometheus.CounterVec
	Revoked    *prometheus.CounterVec
	Superseded *prometheus.CounterVec
}

// New registers the consent metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Granted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_consent_granted_total",
			Help: "Consents granted by consent type",
		}, []string{"consent_type"}),
		Revoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_consent_revoked_total",
			Help: "Consents revoked explicitly by consent type",
		}, []string{"consent_type"}),
		Superseded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_consent_superseded_total",
			Help: "Active consents revoked because a newer grant replaced them",
		}, []string{"consent_type"}),
	}
}

func (m *Metrics) IncGranted(t id.ConsentType) {
	if m != nil {
		m.Granted.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) IncRevoked(t id.ConsentType) {
	if m != nil {
		m.Revoked.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) AddSuperseded(t id.ConsentType, n int) {
	if m != nil && n > 0 {
		m.Superseded.WithLabelValues(string(t)).Add(float64(n))
	}
}
