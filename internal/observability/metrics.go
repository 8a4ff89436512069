package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "timebox"

// MetricsCollector holds all Prometheus metrics for timebox.
// Uses a custom registry, so there is no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec
	SandboxSetupFailures     *prometheus.CounterVec
	SandboxActiveChildren    prometheus.Gauge

	// Suite metrics.
	SuiteRunsTotal  *prometheus.CounterVec
	SuiteCasesTotal *prometheus.CounterVec

	// HTTP API metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox invocations by outcome (success, nonzero_exit, signaled, timeout).",
		}, []string{"work", "outcome"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time from spawn to reap in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"work"}),

		SandboxSetupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "setup_failures_total",
			Help:      "Invocations that failed before a child was running.",
		}, []string{"work"}),

		SandboxActiveChildren: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "active_children",
			Help:      "Number of sandbox invocations currently in flight.",
		}),

		SuiteRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suite",
			Name:      "runs_total",
			Help:      "Total suite runs by result (passed, failed).",
		}, []string{"suite", "result"}),

		SuiteCasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suite",
			Name:      "cases_total",
			Help:      "Total suite cases by result (passed, failed, errored).",
		}, []string{"suite", "result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SandboxSetupFailures,
		m.SandboxActiveChildren,
		m.SuiteRunsTotal,
		m.SuiteCasesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordSuite counts one finished suite run and its cases.
func (m *MetricsCollector) RecordSuite(suite string, passed, failed, errored int) {
	if m == nil {
		return
	}
	result := "passed"
	if failed > 0 || errored > 0 {
		result = "failed"
	}
	m.SuiteRunsTotal.WithLabelValues(suite, result).Inc()
	m.SuiteCasesTotal.WithLabelValues(suite, "passed").Add(float64(passed))
	m.SuiteCasesTotal.WithLabelValues(suite, "failed").Add(float64(failed))
	m.SuiteCasesTotal.WithLabelValues(suite, "errored").Add(float64(errored))
}
