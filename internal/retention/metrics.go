package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks retention sweeps.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Deleted  *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers the retention metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_retention_sweeps_total",
			Help: "Retention sweeps by outcome (dry_run, executed, unconfirmed, locked, failed)",
		}, []string{"outcome"}),
		Deleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caregov_retention_deleted_total",
			Help: "Entries removed by retention sweeps by log kind",
		}, []string{"kind"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caregov_retention_sweep_duration_seconds",
			Help:    "Duration of retention sweeps",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) incRun(outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) addDeleted(kind string, n int64) {
	if m != nil && n > 0 {
		m.Deleted.WithLabelValues(kind).Add(float64(n))
	}
}
