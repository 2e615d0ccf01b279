package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit mirror.
type Metrics struct {
	Published           prometheus.Counter
	Failures            prometheus.Counter
	CircuitDropped      prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers the mirror metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "caregov_audit_mirror_published_total",
			Help: "Audit entries mirrored to Kafka",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "caregov_audit_mirror_failures_total",
			Help: "Audit entries that failed to mirror to Kafka",
		}),
		CircuitDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "caregov_audit_mirror_circuit_dropped_total",
			Help: "Audit entries skipped while the mirror circuit was open",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caregov_audit_mirror_circuit_state",
			Help: "Mirror circuit breaker state (0=closed, 1=open)",
		}),
	}
}
