package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/timebox/internal/config"
)

const defaultAnomalyWindow = 300 * time.Second

// minSamples is the number of runs in the window before a rate is judged.
const minSamples = 5

// AnomalyDetector warns when the share of failed runs of a work exceeds a
// threshold within a sliding window.
type AnomalyDetector struct {
	mu        sync.Mutex
	failures  map[string]*slidingWindow
	successes map[string]*slidingWindow
	threshold float64
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates a detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	if cfg.WindowSeconds > 0 {
		window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	return &AnomalyDetector{
		failures:  make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		threshold: cfg.ErrorRateThreshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordFailure records a run that did not succeed.
// It returns true when the failure rate is above the threshold.
func (a *AnomalyDetector) RecordFailure(work string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.failures, work).add(a.now())
	return a.checkFailureRate(work)
}

// RecordSuccess records a successful run.
func (a *AnomalyDetector) RecordSuccess(work string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.successes, work).add(a.now())
}

// FailureRate returns the current failure share for work and the number of
// runs it is based on.
func (a *AnomalyDetector) FailureRate(work string) (rate float64, total int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(work)
}

// Must be called with a.mu held.
func (a *AnomalyDetector) rate(work string) (float64, int) {
	now := a.now()
	failed := a.windowFor(a.failures, work).count(now)
	total := failed + a.windowFor(a.successes, work).count(now)
	if total == 0 {
		return 0, 0
	}
	return float64(failed) / float64(total), total
}

// Must be called with a.mu held.
func (a *AnomalyDetector) checkFailureRate(work string) bool {
	if a.threshold <= 0 {
		return false
	}
	rate, total := a.rate(work)
	if total < minSamples || rate <= a.threshold {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: high sandbox failure rate",
			slog.String("work", work),
			slog.Float64("failure_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Int("runs", total),
		)
	}
	return true
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(at time.Time) {
	w.entries = append(w.entries, at)
	w.prune(at)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune drops entries older than the window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
