// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// readiness checks and failure-rate detection for sandbox runs.
//
// Every component is optional. A nil *Observability, or a nil field, turns
// the corresponding recording into a no-op.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/timebox/internal/config"
	"github.com/jkaninda/timebox/internal/sandbox"
)

// Observability bundles the enabled components.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker // Always set; checks are added by the caller.
}

// New builds the components enabled in cfg. A nil cfg returns nil.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	obs := &Observability{Health: NewHealthChecker(logger)}

	if m := cfg.Metrics; m != nil && m.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if tc := cfg.Tracing; tc != nil && tc.Enabled {
		ts, err := NewTracerSetup(tc)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if ac := cfg.Anomaly; ac != nil && ac.Enabled {
		obs.Anomaly = NewAnomalyDetector(ac, logger)
	}
	return obs, nil
}

// WrapSandbox instruments inner with the enabled components. inner is
// returned unchanged when nothing would be recorded.
func (o *Observability) WrapSandbox(inner sandbox.Sandbox) sandbox.Sandbox {
	if o == nil || (o.Metrics == nil && o.Tracer == nil && o.Anomaly == nil) {
		return inner
	}
	return NewInstrumentedSandbox(inner, o.Metrics, o.Tracer, o.Anomaly)
}

// MetricsOrNil returns the metrics collector, or nil when metrics are off.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// HTTPTracer returns the tracer for request spans, or nil when tracing is off.
func (o *Observability) HTTPTracer() trace.Tracer {
	if o == nil || o.Tracer == nil {
		return nil
	}
	return o.Tracer.Tracer()
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Tracer.Shutdown(ctx)
}
