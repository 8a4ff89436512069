// Package httpapi exposes the sandbox over HTTP.
//
// Security:
//   - Optional API key authentication on /v1 (constant-time comparison)
//   - Optional per-client rate limiting of run requests
//   - Health endpoints and /metrics are unauthenticated
//   - TLS expected via reverse proxy (not handled here)
//
// Executions go through the sandbox the gateway was built with. Callers pass
// a sandbox.Exclusive so that HTTP and scheduled runs never overlap.
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/timebox/internal/observability"
	"github.com/jkaninda/timebox/internal/ratelimit"
	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
	"github.com/jkaninda/timebox/internal/suite"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string            // e.g., ":8080"
	EnableDocs     bool              // Serve OpenAPI docs.
	APIKeys        map[string]string // API key to client name. Empty = /v1 is open.
	DefaultTimeout time.Duration     // Used when a run request omits timeout_seconds.
	RateLimit      ratelimit.Config  // Applies to run and suite run requests. Zero = unlimited.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	sandbox sandbox.Sandbox
	runs    storage.RunStore // nil = history endpoints disabled.
	suites  map[string]suite.Suite
	runner  *suite.Runner
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
	group   *okapi.Group
}

// NewGateway creates an HTTP API gateway that executes runs through sb.
func NewGateway(cfg Config, sb sandbox.Sandbox, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		config:  cfg,
		sandbox: sb,
		suites:  make(map[string]suite.Suite),
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
		okapi:   okapi.New(),
	}
}

// WithRunStore enables run recording and the history endpoints.
func (g *Gateway) WithRunStore(runs storage.RunStore) *Gateway {
	g.runs = runs
	return g
}

// WithSuites enables POST /v1/suites/{name}/run for the given suites.
func (g *Gateway) WithSuites(suites []suite.Suite, runner *suite.Runner) *Gateway {
	for _, s := range suites {
		g.suites[s.Name] = s
	}
	g.runner = runner
	return g
}

// WithOpenAPIDocs serves the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Timebox",
			Version: "v1",
		},
	)
	return g
}

// routes registers every endpoint. Called once by Start.
func (g *Gateway) routes() {
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Get("/works", g.instrument(g.handleListWorks),
		okapi.DocSummary("List registered works"),
		okapi.DocTags("Works"),
		okapi.DocResponse(WorksResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/runs", g.instrument(g.handleRun),
		okapi.DocSummary("Run a work in the sandbox and wait for its outcome"),
		okapi.DocTags("Runs"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	if g.runs != nil {
		g.group.Get("/runs", g.instrument(g.handleListRuns),
			okapi.DocSummary("List recorded runs, newest first"),
			okapi.DocTags("Runs"),
			okapi.DocResponse([]RunResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/runs/{id}", g.instrument(g.handleGetRun),
			okapi.DocSummary("Get a recorded run"),
			okapi.DocTags("Runs"),
			okapi.DocPathParam("id", "string", "Run ID (UUID)"),
			okapi.DocResponse(RunResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	if g.runner != nil {
		g.group.Post("/suites/{name}/run", g.instrument(g.handleRunSuite),
			okapi.DocSummary("Run a configured suite"),
			okapi.DocTags("Suites"),
			okapi.DocPathParam("name", "string", "Suite name"),
			okapi.DocResponse(suite.Report{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.instrument(g.handleLiveness))
	g.okapi.Get("/readyz", g.instrument(g.handleReadiness))

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Runs block until the child ends, so writes wait on the sandbox deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api stopping")
	return g.okapi.Shutdown(g.server)
}

// instrument wraps h with the request metrics and tracing middleware.
func (g *Gateway) instrument(h okapi.HandlerFunc) okapi.HandlerFunc {
	if g.config.Metrics == nil && g.config.Tracer == nil {
		return h
	}
	return observability.HTTPMiddleware(g.config.Metrics, g.config.Tracer)(h)
}

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("client", "anonymous")
			return next(c)
		}
		client, ok := g.clientFor(c.Header("Authorization"))
		if !ok {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		c.Set("client", client)
		return next(c)
	}
}

// clientFor resolves a Bearer Authorization header to a client name.
// Every configured key is compared so timing does not depend on which matched.
func (g *Gateway) clientFor(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	apiKey := strings.TrimPrefix(authHeader, "Bearer ")

	client := ""
	for key, name := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			client = name
		}
	}
	return client, client != ""
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness reports that the process is up.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
