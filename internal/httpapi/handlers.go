package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
	"github.com/jkaninda/timebox/internal/suite"
)

// **** Request/response types ****

// WorksResponse is the JSON response for GET /v1/works.
type WorksResponse struct {
	Works []string `json:"works"`
}

// RunRequest is the JSON body for POST /v1/runs.
type RunRequest struct {
	Work           string   `json:"work"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"` // nil = server default; 0 = immediate deadline.
}

// RunResponse describes one sandbox invocation.
type RunResponse struct {
	ID             string       `json:"id"`
	Work           string       `json:"work"`
	Suite          string       `json:"suite,omitempty"`
	Outcome        sandbox.Kind `json:"outcome"`
	ExitCode       int          `json:"exit_code"`
	Signal         string       `json:"signal,omitempty"`
	TimeoutSeconds float64      `json:"timeout_seconds"`
	DurationMS     int64        `json:"duration_ms"`
	PID            int          `json:"pid"`
	Narration      string       `json:"narration"`
	StartedAt      time.Time    `json:"started_at"`
}

func toRunResponse(r *storage.RunRecord) RunResponse {
	return RunResponse{
		ID:             r.ID.String(),
		Work:           r.Work,
		Suite:          r.Suite,
		Outcome:        r.Outcome,
		ExitCode:       r.ExitCode,
		Signal:         r.Signal,
		TimeoutSeconds: float64(r.TimeoutMS) / 1000,
		DurationMS:     r.DurationMS,
		PID:            r.PID,
		Narration:      r.Narration,
		StartedAt:      r.StartedAt,
	}
}

// apiError carries an HTTP status for a client-visible failure.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &apiError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func tooManyRequests(retryAfter time.Duration) error {
	secs := int(math.Ceil(retryAfter.Seconds()))
	return &apiError{status: http.StatusTooManyRequests, msg: fmt.Sprintf("rate limit exceeded, retry in %ds", secs)}
}

func notFound(msg string) error {
	return &apiError{status: http.StatusNotFound, msg: msg}
}

// respondError writes err with the status it carries, or 500.
func respondError(c *okapi.Context, err error) error {
	var ae *apiError
	if !errors.As(err, &ae) {
		return c.AbortInternalServerError("internal error")
	}
	switch ae.status {
	case http.StatusBadRequest:
		return c.AbortBadRequest(ae.msg)
	default:
		return c.JSON(ae.status, ErrorBody{Error: ae.msg})
	}
}

// **** Handlers ****

func (g *Gateway) handleListWorks(c *okapi.Context) error {
	return c.OK(WorksResponse{Works: sandbox.Works()})
}

func (g *Gateway) handleRun(c *okapi.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	resp, err := g.executeRun(c.Context(), req, c.GetString("client"))
	if err != nil {
		return respondError(c, err)
	}
	return c.OK(resp)
}

func (g *Gateway) handleListRuns(c *okapi.Context) error {
	filter, err := parseRunFilter(c.Request().URL.Query())
	if err != nil {
		return respondError(c, err)
	}
	runs, err := g.listRuns(c.Context(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.OK(runs)
}

func (g *Gateway) handleGetRun(c *okapi.Context) error {
	run, err := g.getRun(c.Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.OK(run)
}

func (g *Gateway) handleRunSuite(c *okapi.Context) error {
	report, err := g.runSuite(c.Context(), c.Param("name"), c.GetString("client"))
	if err != nil {
		return respondError(c, err)
	}
	return c.OK(report)
}

// **** Operations ****

// executeRun validates req, runs it to completion and records the outcome.
// Work failures are successful responses; only setup failures are errors.
func (g *Gateway) executeRun(ctx context.Context, req RunRequest, client string) (*RunResponse, error) {
	if req.Work == "" {
		return nil, badRequest("work is required")
	}
	if err := g.allow(client); err != nil {
		return nil, err
	}
	work, ok := sandbox.Lookup(req.Work)
	if !ok {
		return nil, badRequest("unknown work %q", req.Work)
	}

	timeout := g.config.DefaultTimeout
	if req.TimeoutSeconds != nil {
		t, err := sandbox.TimeoutFromSeconds(*req.TimeoutSeconds)
		if err != nil {
			return nil, badRequest("timeout_seconds: %s", err.Error())
		}
		timeout = t
	}

	g.logger.Info("http run",
		slog.String("client", client),
		slog.String("work", work.Name()),
		slog.Duration("timeout", timeout),
	)

	out, err := g.sandbox.Execute(ctx, sandbox.ExecutionRequest{Work: work, Timeout: timeout})
	if err != nil {
		if errors.Is(err, sandbox.ErrNegativeTimeout) || errors.Is(err, sandbox.ErrUnknownWork) {
			return nil, badRequest("%s", err.Error())
		}
		g.logger.Error("sandbox setup failed",
			slog.String("work", work.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	rec := storage.RunFromOutcome(out, "")
	if g.runs != nil {
		if err := g.runs.Record(ctx, rec); err != nil {
			g.logger.Warn("recording run failed",
				slog.String("run_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	resp := toRunResponse(rec)
	return &resp, nil
}

func (g *Gateway) listRuns(ctx context.Context, filter storage.RunFilter) ([]RunResponse, error) {
	runs, err := g.runs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RunResponse, len(runs))
	for i := range runs {
		out[i] = toRunResponse(&runs[i])
	}
	return out, nil
}

func (g *Gateway) getRun(ctx context.Context, rawID string) (*RunResponse, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badRequest("invalid run id")
	}
	run, err := g.runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("run not found")
		}
		return nil, err
	}
	resp := toRunResponse(run)
	return &resp, nil
}

func (g *Gateway) runSuite(ctx context.Context, name, client string) (*suite.Report, error) {
	s, ok := g.suites[name]
	if !ok {
		return nil, notFound("suite not found")
	}
	if err := g.allow(client); err != nil {
		return nil, err
	}
	g.logger.Info("http suite run", slog.String("client", client), slog.String("suite", name))
	return g.runner.Run(ctx, s)
}

// allow charges one run to client's rate limit bucket.
func (g *Gateway) allow(client string) error {
	if err := g.limiter.Allow(client); err != nil {
		g.logger.Warn("run rate limited", slog.String("client", client))
		return tooManyRequests(g.limiter.RetryAfter(client))
	}
	return nil
}

// parseRunFilter reads the work, suite, outcome, since and limit query parameters.
func parseRunFilter(q url.Values) (storage.RunFilter, error) {
	filter := storage.RunFilter{
		Work:  q.Get("work"),
		Suite: q.Get("suite"),
	}
	if v := q.Get("outcome"); v != "" {
		kind, err := sandbox.ParseKind(v)
		if err != nil {
			return filter, badRequest("invalid outcome %q", v)
		}
		filter.Outcome = &kind
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, badRequest("since must be an RFC 3339 timestamp")
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			return filter, badRequest("limit must be between 1 and 1000")
		}
		filter.Limit = limit
	}
	return filter, nil
}
