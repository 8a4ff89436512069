// Package config handles loading and validating timebox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for timebox.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.timebox. Override: TIMEBOX_DATA_DIR env var.
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite under data_dir
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"` // nil = scheduled suites disabled
	Suites        []SuiteConfig        `json:"suites,omitempty" yaml:"suites,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error. Default: info
	Format string `json:"format" yaml:"format"` // text or json. Default: text
}

// SandboxConfig configures sandbox invocations.
type SandboxConfig struct {
	DefaultTimeoutSeconds float64  `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Used when a run does not set one. 0 = 10s.
	Verbose               *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`             // Print narration lines. Default: true
	HoldSignals           []string `json:"hold_signals,omitempty" yaml:"hold_signals,omitempty"`   // Default: SIGINT, SIGTERM
	DisableSignalHold     bool     `json:"disable_signal_hold" yaml:"disable_signal_hold"`
	Executable            string   `json:"executable,omitempty" yaml:"executable,omitempty"` // Child binary. Default: the running binary.
}

// DefaultTimeout returns the default deadline, 10s when unset.
func (s *SandboxConfig) DefaultTimeout() time.Duration {
	if s != nil && s.DefaultTimeoutSeconds > 0 {
		return time.Duration(s.DefaultTimeoutSeconds * float64(time.Second))
	}
	return 10 * time.Second
}

// IsVerbose reports whether narration is enabled. Default: true.
func (s *SandboxConfig) IsVerbose() bool {
	if s == nil || s.Verbose == nil {
		return true
	}
	return *s.Verbose
}

// StorageConfig selects and configures the run history backend.
type StorageConfig struct {
	Driver   string                `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres". Override: TIMEBOX_DB_DRIVER.
	SQLite   SQLiteStorageConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresStorageConfig `json:"postgres" yaml:"postgres"`
}

// StorageDriver returns the configured driver, defaulting to sqlite.
func (s *StorageConfig) StorageDriver() string {
	if s == nil || s.Driver == "" {
		return "sqlite"
	}
	return s.Driver
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/timebox.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // Default: wal
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: TIMEBOX_DB_DSN
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "timebox"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness checks.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeSandbox bool `json:"include_sandbox" yaml:"include_sandbox"` // Run the nice work on readiness.
}

// AnomalyConfig configures threshold-based failure-rate detection per work.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failed runs
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	ListenAddr string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: TIMEBOX_LISTEN_ADDR.
	EnableDocs bool              `json:"enable_docs" yaml:"enable_docs"`
	APIKeys    map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // API key → client name. Empty = /v1 unauthenticated.
	RateLimit  *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited
}

// RateLimitConfig limits run requests per API client.
type RateLimitConfig struct {
	RunsPerMinute int `json:"runs_per_minute" yaml:"runs_per_minute"`
	Burst         int `json:"burst" yaml:"burst"` // Default: runs_per_minute
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// SchedulerConfig configures cron-driven suite runs.
type SchedulerConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds    int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`         // Default: 30.
	MissedJobWindowSeconds int  `json:"missed_job_window_seconds" yaml:"missed_job_window_seconds"` // Default: 3600 (1 hour).
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MissedJobWindow returns the window for recovering missed runs.
// Runs missed more than this duration ago are skipped. Default: 1 hour.
func (s *SchedulerConfig) MissedJobWindow() time.Duration {
	if s != nil && s.MissedJobWindowSeconds > 0 {
		return time.Duration(s.MissedJobWindowSeconds) * time.Second
	}
	return 1 * time.Hour
}

// SuiteConfig declares a named, ordered list of sandbox cases.
type SuiteConfig struct {
	Name     string       `json:"name" yaml:"name"`
	Schedule string       `json:"schedule,omitempty" yaml:"schedule,omitempty"` // 5-field cron expression. Empty = manual only.
	Cases    []CaseConfig `json:"cases" yaml:"cases"`
}

// CaseConfig is one sandbox invocation inside a suite.
type CaseConfig struct {
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"` // Default: the work name.
	Work           string   `json:"work" yaml:"work"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"` // nil = sandbox default; 0 = immediate.
	Expect         string   `json:"expect,omitempty" yaml:"expect,omitempty"`                   // success, nonzero_exit, signaled, timeout. Default: success
	ExitCode       *int     `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`             // Required exit code when expect is nonzero_exit.
}

// Suite returns the suite with the given name.
func (c *Config) Suite(name string) (*SuiteConfig, bool) {
	for i := range c.Suites {
		if c.Suites[i].Name == name {
			return &c.Suites[i], true
		}
	}
	return nil, false
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	return cfg
}

// Load reads a YAML or JSON config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return &cfg, nil
}

// applyEnv applies environment overrides. Env vars take precedence over config values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TIMEBOX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TIMEBOX_DB_DRIVER"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("TIMEBOX_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("TIMEBOX_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".timebox"
		}
		return filepath.Join(home, ".timebox")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// SQLitePath returns the SQLite database file, derived from the data directory if unset.
func (c *Config) SQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite.Path != "" {
		if resolved, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return resolved
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "timebox.db")
}

var validExpectations = map[string]bool{
	"":             true,
	"success":      true,
	"nonzero_exit": true,
	"signaled":     true,
	"timeout":      true,
}

// maxTimeoutSeconds is the largest timeout a time.Duration can hold.
const maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

func (c *Config) validate() error {
	if c.Sandbox.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.default_timeout_seconds must not be negative")
	}
	if c.Sandbox.DefaultTimeoutSeconds >= maxTimeoutSeconds {
		return fmt.Errorf("sandbox.default_timeout_seconds must be below %.0f", maxTimeoutSeconds)
	}
	if _, err := parseSignals(c.Sandbox.HoldSignals); err != nil {
		return fmt.Errorf("sandbox.hold_signals: %w", err)
	}

	switch c.Storage.StorageDriver() {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set TIMEBOX_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use text or json)", c.Logging.Format)
	}

	if rl := c.HTTP.RateLimit; rl != nil && (rl.RunsPerMinute < 0 || rl.Burst < 0) {
		return fmt.Errorf("http.rate_limit values must not be negative")
	}

	if c.Observability != nil && c.Observability.Anomaly != nil {
		if t := c.Observability.Anomaly.ErrorRateThreshold; t < 0 || t > 1 {
			return fmt.Errorf("observability.anomaly.error_rate_threshold must be between 0 and 1")
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	seen := make(map[string]bool, len(c.Suites))
	for i, s := range c.Suites {
		if s.Name == "" {
			return fmt.Errorf("suites[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("suites.%s is defined twice", s.Name)
		}
		seen[s.Name] = true
		if s.Schedule != "" {
			if _, err := parser.Parse(s.Schedule); err != nil {
				return fmt.Errorf("suites.%s.schedule %q: %w", s.Name, s.Schedule, err)
			}
		}
		if len(s.Cases) == 0 {
			return fmt.Errorf("suites.%s has no cases", s.Name)
		}
		for j, cs := range s.Cases {
			if cs.Work == "" {
				return fmt.Errorf("suites.%s.cases[%d].work is required", s.Name, j)
			}
			if cs.TimeoutSeconds != nil && *cs.TimeoutSeconds < 0 {
				return fmt.Errorf("suites.%s.cases[%d].timeout_seconds must not be negative", s.Name, j)
			}
			if cs.TimeoutSeconds != nil && *cs.TimeoutSeconds >= maxTimeoutSeconds {
				return fmt.Errorf("suites.%s.cases[%d].timeout_seconds must be below %.0f", s.Name, j, maxTimeoutSeconds)
			}
			if !validExpectations[cs.Expect] {
				return fmt.Errorf("suites.%s.cases[%d].expect %q is not supported", s.Name, j, cs.Expect)
			}
			if cs.ExitCode != nil && cs.Expect != "nonzero_exit" {
				return fmt.Errorf("suites.%s.cases[%d].exit_code requires expect: nonzero_exit", s.Name, j)
			}
		}
	}
	return nil
}
