// Package scheduler fires configured suites on their cron schedules.
//
// Schedules live in memory and are computed from the configuration at start.
// Due suites run one at a time on the scheduler goroutine, so a slow suite
// delays the next tick instead of overlapping with it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/timebox/internal/config"
	"github.com/jkaninda/timebox/internal/suite"
)

// SuiteRunner executes a suite. Implemented by *suite.Runner.
type SuiteRunner interface {
	Run(ctx context.Context, s suite.Suite) (*suite.Report, error)
}

// entry tracks the schedule of one suite.
type entry struct {
	suite    suite.Suite
	schedule cron.Schedule
	next     time.Time
}

// Scheduler polls the suite schedules and runs the ones that are due.
type Scheduler struct {
	runner  SuiteRunner
	metrics *Metrics
	logger  *slog.Logger
	config  *config.SchedulerConfig
	entries []*entry
	now     func() time.Time
}

// New creates a Scheduler for every suite that has a schedule. Suites
// without one are left for manual runs.
func New(suites []suite.Suite, runner SuiteRunner, metrics *Metrics, logger *slog.Logger, cfg *config.SchedulerConfig) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{
		runner:  runner,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	parser := newParser()
	for _, st := range suites {
		if st.Schedule == "" {
			continue
		}
		sched, err := parser.Parse(st.Schedule)
		if err != nil {
			return nil, fmt.Errorf("suite %q: invalid cron expression %q: %w", st.Name, st.Schedule, err)
		}
		s.entries = append(s.entries, &entry{suite: st, schedule: sched})
	}
	return s, nil
}

// Len returns the number of scheduled suites.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	s.arm(s.now())

	go func() {
		s.logger.InfoContext(ctx, "suite scheduler started",
			slog.String("poll_interval", s.config.PollInterval().String()),
			slog.Int("suites", len(s.entries)),
		)

		ticker := time.NewTicker(s.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("suite scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// arm computes the first run time of every entry.
func (s *Scheduler) arm(now time.Time) {
	for _, e := range s.entries {
		e.next = e.schedule.Next(now)
		s.logger.Debug("suite scheduled",
			slog.String("suite", e.suite.Name),
			slog.Time("next_run", e.next),
		)
	}
}

// tick runs a single poll cycle: fire due suites, skip stale ones, reschedule.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	for _, e := range s.entries {
		if ctx.Err() != nil {
			return
		}
		now := s.now()
		if e.next.IsZero() || e.next.After(now) {
			continue
		}

		if e.next.Before(now.Add(-s.config.MissedJobWindow())) {
			s.logger.WarnContext(ctx, "skipping missed suite run",
				slog.String("suite", e.suite.Name),
				slog.Time("scheduled_for", e.next),
			)
			if s.metrics != nil {
				s.metrics.SuitesMissed.Inc()
			}
		} else {
			s.fire(ctx, e)
		}
		e.next = e.schedule.Next(s.now())
	}
}

// fire runs one suite and records the result.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	s.logger.InfoContext(ctx, "firing scheduled suite",
		slog.String("suite", e.suite.Name),
		slog.Time("scheduled_for", e.next),
	)
	if s.metrics != nil {
		s.metrics.SuitesFired.Inc()
	}

	report, err := s.runner.Run(ctx, e.suite)
	if err != nil || !report.OK() {
		if s.metrics != nil {
			s.metrics.SuitesFailed.Inc()
		}
		attrs := []any{slog.String("suite", e.suite.Name)}
		if report != nil {
			attrs = append(attrs,
				slog.Int("failed", report.Failed),
				slog.Int("errored", report.Errored),
			)
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.ErrorContext(ctx, "scheduled suite failed", attrs...)
	}
}

// NextRuns returns the next run time of each scheduled suite by name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.suite.Name] = e.next
	}
	return out
}

// ComputeNextRunFrom computes the next run time of expr after from.
func ComputeNextRunFrom(expr string, from time.Time) (time.Time, error) {
	sched, err := newParser().Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
