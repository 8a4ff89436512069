package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the suite scheduler.
type Metrics struct {
	SuitesFired  prometheus.Counter
	SuitesFailed prometheus.Counter
	SuitesMissed prometheus.Counter
	TickDuration prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SuitesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timebox",
			Subsystem: "scheduler",
			Name:      "suites_fired_total",
			Help:      "Total scheduled suite runs started.",
		}),
		SuitesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timebox",
			Subsystem: "scheduler",
			Name:      "suites_failed_total",
			Help:      "Total scheduled suite runs with a failed or errored case.",
		}),
		SuitesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timebox",
			Subsystem: "scheduler",
			Name:      "suites_missed_total",
			Help:      "Total scheduled suite runs skipped because they were outside the missed window.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "timebox",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each scheduler tick, including the suites it ran.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
		}),
	}

	reg.MustRegister(
		m.SuitesFired,
		m.SuitesFailed,
		m.SuitesMissed,
		m.TickDuration,
	)

	return m
}
