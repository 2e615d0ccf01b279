package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks record lifecycle transitions.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	AuditWarnings *prometheus.CounterVec
}

// New registers the lifecycle metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_lifecycle_transitions_total",
			Help: "Record lifecycle transitions by entity type and transition",
		}, []string{"entity_type", "transition"}),
		AuditWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_lifecycle_audit_warnings_total",
			Help: "Lifecycle transitions whose audit entry could not be written",
		}, []string{"entity_type"}),
	}
}

// IncTransition records a completed transition (create, update, soft_delete, restore, purge).
func (m *Metrics) IncTransition(entityType, transition string) {
	m.Transitions.WithLabelValues(entityType, transition).Inc()
}

func (m *Metrics) IncAuditWarning(entityType string) {
	m.AuditWarnings.WithLabelValues(entityType).Inc()
}
