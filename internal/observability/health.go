package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from named dependency checks.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status   string `json:"status"`            // "ok" or "fail"
	Message  string `json:"message,omitempty"` // Error message on failure.
	Duration string `json:"duration"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness status, "ok" whenever the process is serving.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs all checks concurrently under a shared timeout. A check
// still running when the timeout expires is reported as failed.
// The result is "ok" only if every check passes.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	type indexed struct {
		i   int
		res CheckResult
	}
	// Buffered so checks that outlive the timeout can still finish.
	done := make(chan indexed, len(checks))
	start := time.Now()
	for i, c := range checks {
		go func() {
			begin := time.Now()
			err := c.Check(ctx)
			res := CheckResult{Status: "ok", Duration: time.Since(begin).String()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
			}
			done <- indexed{i, res}
		}()
	}

	results := make([]CheckResult, len(checks))
	reported := make([]bool, len(checks))
collect:
	for range checks {
		select {
		case r := <-done:
			results[r.i] = r.res
			reported[r.i] = true
		case <-ctx.Done():
			break collect
		}
	}
	for i := range results {
		if !reported[i] {
			results[i] = CheckResult{Status: "fail", Message: "timeout", Duration: time.Since(start).String()}
		}
	}

	status := HealthStatus{Status: "ok", Checks: make(map[string]CheckResult, len(checks))}
	for i, c := range checks {
		status.Checks[c.Name] = results[i]
		if results[i].Status == "ok" {
			continue
		}
		status.Status = "degraded"
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", results[i].Message),
			)
		}
	}
	return status
}
