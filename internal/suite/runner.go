package suite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/timebox/internal/observability"
	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

// Result is the verdict for one case.
type Result struct {
	Case    Case             `json:"-"`
	Name    string           `json:"name"`
	Work    string           `json:"work"`
	Expect  sandbox.Kind     `json:"expect"`
	Outcome *sandbox.Outcome `json:"-"`
	Kind    *sandbox.Kind    `json:"outcome,omitempty"`
	Passed  bool             `json:"passed"`
	Err     error            `json:"-"`
	Error   string           `json:"error,omitempty"`
}

// Narration returns the outcome narration, or the setup error.
func (r Result) Narration() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Outcome.Narration()
}

// Report summarises one suite run.
type Report struct {
	Suite    string        `json:"suite"`
	Results  []Result      `json:"results"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether every case passed.
func (r *Report) OK() bool {
	return r != nil && r.Failed == 0 && r.Errored == 0
}

// Runner executes suites one case at a time.
type Runner struct {
	sandbox sandbox.Sandbox
	runs    storage.RunStore
	metrics *observability.MetricsCollector
	logger  *slog.Logger
	verbose bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunStore records every outcome to runs.
func WithRunStore(runs storage.RunStore) RunnerOption {
	return func(r *Runner) { r.runs = runs }
}

// WithMetrics counts suite results.
func WithMetrics(m *observability.MetricsCollector) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithVerbose makes the sandbox print each case narration.
func WithVerbose(v bool) RunnerOption {
	return func(r *Runner) { r.verbose = v }
}

// NewRunner creates a Runner that executes cases through sb.
func NewRunner(sb sandbox.Sandbox, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{sandbox: sb, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every case of s in order. Setup failures mark the case
// errored and the run continues. The returned error is non-nil only when
// ctx is done before all cases ran; the partial report is still returned.
func (r *Runner) Run(ctx context.Context, s Suite) (*Report, error) {
	start := time.Now()
	report := &Report{Suite: s.Name, Results: make([]Result, 0, len(s.Cases))}

	r.logger.Info("suite started", slog.String("suite", s.Name), slog.Int("cases", len(s.Cases)))

	var runErr error
	for _, c := range s.Cases {
		// Cancellation is checked between cases; a running child is never cut short.
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("suite %s interrupted: %w", s.Name, err)
			break
		}
		res := r.runCase(ctx, s.Name, c)
		switch {
		case res.Err != nil:
			report.Errored++
		case res.Passed:
			report.Passed++
		default:
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	report.Duration = time.Since(start)

	r.metrics.RecordSuite(s.Name, report.Passed, report.Failed, report.Errored)

	level := slog.LevelInfo
	if !report.OK() {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "suite finished",
		slog.String("suite", s.Name),
		slog.Int("passed", report.Passed),
		slog.Int("failed", report.Failed),
		slog.Int("errored", report.Errored),
		slog.Duration("duration", report.Duration),
	)
	return report, runErr
}

func (r *Runner) runCase(ctx context.Context, suiteName string, c Case) Result {
	res := Result{Case: c, Name: c.Name, Work: c.Work, Expect: c.Expect}

	work, ok := sandbox.Lookup(c.Work)
	if !ok {
		res.Err = fmt.Errorf("%w: %w: %q", sandbox.ErrSetup, sandbox.ErrUnknownWork, c.Work)
		res.Error = res.Err.Error()
		return res
	}

	out, err := r.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Work:    work,
		Timeout: c.Timeout,
		Verbose: r.verbose,
	})
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		r.logger.Error("suite case could not start",
			slog.String("suite", suiteName),
			slog.String("case", c.Name),
			slog.Any("error", err),
		)
		return res
	}

	res.Outcome = out
	res.Kind = &out.Kind
	res.Passed = c.Matches(out)

	if r.runs != nil {
		if err := r.runs.Record(ctx, storage.RunFromOutcome(out, suiteName)); err != nil {
			// History is best effort; the verdict stands.
			r.logger.Warn("recording suite run failed",
				slog.String("suite", suiteName),
				slog.String("case", c.Name),
				slog.Any("error", err),
			)
		}
	}
	return res
}
