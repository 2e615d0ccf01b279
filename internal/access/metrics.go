package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts access denials.
type Metrics struct {
	Denials *prometheus.CounterVec
}

// NewMetrics registers the access metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Denials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_access_denials_total",
			Help: "Access denials by reason code",
		}, []string{"code"}),
	}
}

// IncDenial records a denial. Safe on a nil receiver.
func (m *Metrics) IncDenial(code Code) {
	if m != nil {
		m.Denials.WithLabelValues(string(code)).Inc()
	}
}
