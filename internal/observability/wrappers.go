package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/timebox/internal/sandbox"
)

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics, tracing, and
// failure-rate detection.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

// Execute runs the inner sandbox and records the outcome.
func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.Outcome, error) {
	work := req.Work.Name()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.work", work),
				attribute.Float64("sandbox.timeout_seconds", req.Timeout.Seconds()),
			))
		defer span.End()
	}

	if s.metrics != nil {
		s.metrics.SandboxActiveChildren.Inc()
		defer s.metrics.SandboxActiveChildren.Dec()
	}

	out, err := s.inner.Execute(ctx, req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if s.metrics != nil {
			s.metrics.SandboxSetupFailures.WithLabelValues(work).Inc()
		}
		return nil, err
	}

	if span != nil {
		span.SetAttributes(
			attribute.String("sandbox.outcome", out.Kind.String()),
			attribute.Int("sandbox.pid", out.PID),
		)
		switch out.Kind {
		case sandbox.KindExited:
			span.SetAttributes(attribute.Int("sandbox.exit_code", out.ExitCode))
		case sandbox.KindSignaled:
			span.SetAttributes(attribute.String("sandbox.signal", out.SignalName()))
		}
		if !out.OK() {
			span.SetStatus(codes.Error, out.Narration())
		}
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(work, out.Kind.String()).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(work).Observe(out.Duration.Seconds())
	}

	if out.OK() {
		s.anomaly.RecordSuccess(work)
	} else {
		s.anomaly.RecordFailure(work)
	}

	return out, nil
}
