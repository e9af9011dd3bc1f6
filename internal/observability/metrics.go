package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors step outcomes into a prometheus registry for the
// optional metrics endpoint.
type Metrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	rowsTotal    *prometheus.CounterVec
}

// NewMetrics registers the pipeline metric families on the registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlflow",
			Name:      "steps_total",
			Help:      "Pipeline steps executed, by type and outcome.",
		}, []string{"step_type", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlflow",
			Name:      "step_duration_seconds",
			Help:      "Step execution time by type.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"step_type"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlflow",
			Name:      "rows_processed_total",
			Help:      "Rows moved by successful steps, by type.",
		}, []string{"step_type"}),
	}
	reg.MustRegister(m.stepsTotal, m.stepDuration, m.rowsTotal)
	return m
}

func (m *Metrics) observeStep(stepType, status string, duration time.Duration, rows int64) {
	m.stepsTotal.WithLabelValues(stepType, status).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
	if rows > 0 {
		m.rowsTotal.WithLabelValues(stepType).Add(float64(rows))
	}
}
