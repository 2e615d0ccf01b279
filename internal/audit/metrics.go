package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit recorder.
type Metrics struct {
	EntriesWritten  *prometheus.CounterVec
	AccessLogged    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

// NewMetrics registers the recorder metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_audit_entries_written_total",
			Help: "Audit entries persisted by action and sensitivity",
		}, []string{"action", "sensitivity"}),
		AccessLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_access_log_entries_written_total",
			Help: "Subject data access log entries persisted by access type",
		}, []string{"access_type"}),
		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_audit_persist_failures_total",
			Help: "Audit or access log writes that failed and were contained",
		}, []string{"kind"}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caregov_audit_persist_duration_seconds",
			Help:    "Duration of audit entry writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}
