package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/timebox/internal/config"
	"github.com/jkaninda/timebox/internal/observability"
	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

func init() {
	sandbox.Register("suite-test-a", func() {})
	sandbox.Register("suite-test-b", func() {})
}

// scriptedSandbox returns canned outcomes keyed by work name.
type scriptedSandbox struct {
	outcomes map[string]*sandbox.Outcome
	errs     map[string]error
	calls    []string
}

func (s *scriptedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.Outcome, error) {
	name := req.Work.Name()
	s.calls = append(s.calls, name)
	if err := s.errs[name]; err != nil {
		return nil, err
	}
	o := *s.outcomes[name]
	o.ID = uuid.New()
	o.Work = name
	o.Timeout = req.Timeout
	o.StartedAt = time.Now()
	return &o, nil
}

type memRuns struct {
	records []*storage.RunRecord
}

func (m *memRuns) Record(ctx context.Context, run *storage.RunRecord) error {
	m.records = append(m.records, run)
	return nil
}

func (m *memRuns) Get(ctx context.Context, id uuid.UUID) (*storage.RunRecord, error) {
	return nil, storage.ErrNotFound
}

func (m *memRuns) List(ctx context.Context, filter storage.RunFilter) ([]storage.RunRecord, error) {
	return nil, nil
}

func (m *memRuns) Stats(ctx context.Context, since time.Time) (storage.RunStats, error) {
	return nil, nil
}

func intPtr(i int) *int { return &i }

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCase_Matches(t *testing.T) {
	tests := []struct {
		name string
		c    Case
		out  *sandbox.Outcome
		want bool
	}{
		{"success", Case{Expect: sandbox.KindSuccess}, &sandbox.Outcome{Kind: sandbox.KindSuccess}, true},
		{"kind mismatch", Case{Expect: sandbox.KindSuccess}, &sandbox.Outcome{Kind: sandbox.KindTimedOut}, false},
		{"any exit code", Case{Expect: sandbox.KindExited}, &sandbox.Outcome{Kind: sandbox.KindExited, ExitCode: 3}, true},
		{"exit code match", Case{Expect: sandbox.KindExited, ExitCode: intPtr(7)}, &sandbox.Outcome{Kind: sandbox.KindExited, ExitCode: 7}, true},
		{"exit code mismatch", Case{Expect: sandbox.KindExited, ExitCode: intPtr(7)}, &sandbox.Outcome{Kind: sandbox.KindExited, ExitCode: 1}, false},
		{"nil outcome", Case{Expect: sandbox.KindSuccess}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Matches(tt.out); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	zero := 0.0
	half := 0.5
	s, err := FromConfig(config.SuiteConfig{
		Name:     "smoke",
		Schedule: "*/5 * * * *",
		Cases: []config.CaseConfig{
			{Work: "nice"},
			{Name: "seven", Work: "exit-7", Expect: "nonzero_exit", ExitCode: intPtr(7), TimeoutSeconds: &half},
			{Work: "sleep-forever", Expect: "timeout", TimeoutSeconds: &zero},
		},
	}, 3*time.Second)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	if len(s.Cases) != 3 {
		t.Fatalf("got %d cases, want 3", len(s.Cases))
	}
	if c := s.Cases[0]; c.Name != "nice" || c.Timeout != 3*time.Second || c.Expect != sandbox.KindSuccess {
		t.Errorf("case 0 = %+v", c)
	}
	if c := s.Cases[1]; c.Name != "seven" || c.Timeout != 500*time.Millisecond || c.Expect != sandbox.KindExited {
		t.Errorf("case 1 = %+v", c)
	}
	if c := s.Cases[2]; c.Timeout != 0 || c.Expect != sandbox.KindTimedOut {
		t.Errorf("case 2 = %+v", c)
	}
}

func TestFromConfig_Invalid(t *testing.T) {
	neg, huge := -1.0, 1e12
	tests := []config.CaseConfig{
		{Work: "nice", Expect: "exploded"},
		{Work: "nice", TimeoutSeconds: &neg},
		{Work: "nice", TimeoutSeconds: &huge},
	}
	for _, cc := range tests {
		if _, err := FromConfig(config.SuiteConfig{Name: "bad", Cases: []config.CaseConfig{cc}}, time.Second); err == nil {
			t.Errorf("FromConfig(%+v) expected error", cc)
		}
	}
}

func TestRunner_Run(t *testing.T) {
	sb := &scriptedSandbox{
		outcomes: map[string]*sandbox.Outcome{
			"suite-test-a": {Kind: sandbox.KindSuccess},
			"suite-test-b": {Kind: sandbox.KindExited, ExitCode: 1},
		},
	}
	runs := &memRuns{}
	metrics := observability.NewMetricsCollector()
	r := NewRunner(sb, nil, WithRunStore(runs), WithMetrics(metrics))

	report, err := r.Run(context.Background(), Suite{
		Name: "mixed",
		Cases: []Case{
			{Name: "a", Work: "suite-test-a", Timeout: time.Second, Expect: sandbox.KindSuccess},
			{Name: "b", Work: "suite-test-b", Timeout: time.Second, Expect: sandbox.KindSuccess},
			{Name: "missing", Work: "no-such-work", Timeout: time.Second},
			{Name: "b-again", Work: "suite-test-b", Timeout: time.Second, Expect: sandbox.KindExited, ExitCode: intPtr(1)},
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Passed != 2 || report.Failed != 1 || report.Errored != 1 {
		t.Errorf("passed/failed/errored = %d/%d/%d, want 2/1/1", report.Passed, report.Failed, report.Errored)
	}
	if report.OK() {
		t.Error("OK() = true, want false")
	}
	if len(report.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(report.Results))
	}

	missing := report.Results[2]
	if !errors.Is(missing.Err, sandbox.ErrUnknownWork) {
		t.Errorf("missing work error = %v, want ErrUnknownWork", missing.Err)
	}

	// The unknown work never reaches the sandbox.
	want := []string{"suite-test-a", "suite-test-b", "suite-test-b"}
	if len(sb.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", sb.calls, want)
	}
	for i := range want {
		if sb.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, sb.calls[i], want[i])
		}
	}

	if len(runs.records) != 3 {
		t.Errorf("recorded %d runs, want 3", len(runs.records))
	}
	for _, rec := range runs.records {
		if rec.Suite != "mixed" {
			t.Errorf("record suite = %q, want mixed", rec.Suite)
		}
	}

	if v := counterValue(t, metrics.SuiteRunsTotal.WithLabelValues("mixed", "failed")); v != 1 {
		t.Errorf("suite_runs_total{failed} = %v, want 1", v)
	}
	if v := counterValue(t, metrics.SuiteCasesTotal.WithLabelValues("mixed", "errored")); v != 1 {
		t.Errorf("suite_cases_total{errored} = %v, want 1", v)
	}
}

func TestRunner_SetupErrorContinues(t *testing.T) {
	sb := &scriptedSandbox{
		outcomes: map[string]*sandbox.Outcome{"suite-test-b": {Kind: sandbox.KindSuccess}},
		errs:     map[string]error{"suite-test-a": sandbox.ErrSetup},
	}
	report, err := NewRunner(sb, nil).Run(context.Background(), Suite{
		Name: "setup",
		Cases: []Case{
			{Name: "a", Work: "suite-test-a"},
			{Name: "b", Work: "suite-test-b"},
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Errored != 1 || report.Passed != 1 {
		t.Errorf("errored/passed = %d/%d, want 1/1", report.Errored, report.Passed)
	}
	if got := report.Results[0].Narration(); got != sandbox.ErrSetup.Error() {
		t.Errorf("Narration() = %q", got)
	}
}

func TestRunner_CancelledBetweenCases(t *testing.T) {
	sb := &scriptedSandbox{outcomes: map[string]*sandbox.Outcome{"suite-test-a": {Kind: sandbox.KindSuccess}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewRunner(sb, nil).Run(ctx, Suite{Name: "c", Cases: []Case{{Work: "suite-test-a"}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(report.Results) != 0 || len(sb.calls) != 0 {
		t.Errorf("cases ran after cancellation: %v", sb.calls)
	}
}

func TestReport_EmptyIsOK(t *testing.T) {
	report, err := NewRunner(&scriptedSandbox{}, nil).Run(context.Background(), Suite{Name: "empty"})
	if err != nil || !report.OK() {
		t.Errorf("empty suite: OK() = %v, err = %v", report.OK(), err)
	}
	var nilReport *Report
	if nilReport.OK() {
		t.Error("nil report should not be OK")
	}
}
