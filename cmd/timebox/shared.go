package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/timebox/internal/config"
	"github.com/jkaninda/timebox/internal/observability"
	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
	pgstore "github.com/jkaninda/timebox/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/timebox/internal/storage/sqlite"
	"github.com/jkaninda/timebox/internal/suite"
	"github.com/jkaninda/timebox/internal/works"
)

// SharedComponents holds the subsystems every command builds the same way.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // nil = history disabled.
	Obs    *observability.Observability

	// Sandbox is instrumented and serialized; every command executes through it.
	Sandbox sandbox.Sandbox
	Runner  *suite.Runner

	cleanups []func()
}

// sharedOptions selects the optional parts of initShared.
type sharedOptions struct {
	store        bool // Open the run history store.
	requireStore bool // Fail instead of warning when the store cannot be opened.
	output       io.Writer
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// Runs returns the run store, or nil when history is disabled.
func (sc *SharedComponents) Runs() storage.RunStore {
	if sc.Store == nil {
		return nil
	}
	return sc.Store.Runs()
}

// metricsRegistry returns the Prometheus registry, or nil when metrics are off.
func metricsRegistry(sc *SharedComponents) *prometheus.Registry {
	if m := sc.Obs.MetricsOrNil(); m != nil {
		return m.Registry
	}
	return nil
}

// loadConfig reads the config file named by --config or TIMEBOX_CONFIG.
// Without either, defaults are used.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("TIMEBOX_CONFIG", configPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the process logger. The --log-level flag wins over config.
func newLogger(cfg *config.Config, json bool) *slog.Logger {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if json || strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initShared performs the initialization shared by all commands.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger, opts sharedOptions) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	})

	// Storage (SQLite default, PostgreSQL optional).
	if opts.store {
		store, err := initStore(cfg, logger)
		if err != nil {
			if opts.requireStore {
				sc.Cleanup()
				return nil, fmt.Errorf("initializing storage: %w", err)
			}
			logger.Warn("run history disabled", slog.String("error", err.Error()))
		} else {
			sc.Store = store
			sc.addCleanup(func() {
				if err := store.Close(); err != nil {
					logger.Error("closing store", slog.String("error", err.Error()))
				}
			})
		}
	}

	// Sandbox.
	sc.Sandbox = initSandbox(cfg, obs, logger, opts.output)

	runnerOpts := []suite.RunnerOption{
		suite.WithMetrics(obs.MetricsOrNil()),
		suite.WithVerbose(cfg.Sandbox.IsVerbose()),
	}
	if runs := sc.Runs(); runs != nil {
		runnerOpts = append(runnerOpts, suite.WithRunStore(runs))
	}
	sc.Runner = suite.NewRunner(sc.Sandbox, logger, runnerOpts...)

	// Readiness checks.
	if obs != nil && cfg.Observability.Health != nil {
		if cfg.Observability.Health.IncludeDB && sc.Store != nil {
			obs.Health.AddCheck("db", sc.Store.Ping)
		}
		if cfg.Observability.Health.IncludeSandbox {
			obs.Health.AddCheck("sandbox", sandboxCheck(sc.Sandbox))
		}
	}

	return sc, nil
}

// initStore opens and migrates the configured run history store.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		store, err = initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		store, err = initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sqlCfg := sqlitestore.Config{Path: cfg.SQLitePath()}
	if cfg.Storage != nil {
		sqlCfg.JournalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlCfg, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var pg config.PostgresStorageConfig
	if cfg.Storage != nil {
		pg = cfg.Storage.Postgres
	}
	if pg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or TIMEBOX_DB_DSN)")
	}

	store, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return store, nil
}

// initSandbox builds the process sandbox, wrapped with observability when
// enabled and serialized so that one child runs at a time.
func initSandbox(cfg *config.Config, obs *observability.Observability, logger *slog.Logger, output io.Writer) sandbox.Sandbox {
	sb := sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		Output:            output,
		Executable:        cfg.Sandbox.Executable,
		HoldSignals:       cfg.Sandbox.HeldSignals(),
		DisableSignalHold: cfg.Sandbox.DisableSignalHold,
	}, logger)

	return sandbox.NewExclusive(obs.WrapSandbox(sb))
}

// sandboxCheck runs the nice work and fails unless it succeeds.
func sandboxCheck(sb sandbox.Sandbox) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		out, err := sb.Execute(ctx, sandbox.ExecutionRequest{Work: works.Nice, Timeout: 2 * time.Second})
		if err != nil {
			return err
		}
		if !out.OK() {
			return fmt.Errorf("sandbox check: %s", out.Narration())
		}
		return nil
	}
}

// exitCodeFor maps an outcome to the process exit code.
func exitCodeFor(o *sandbox.Outcome) int {
	switch {
	case o.OK():
		return exitOK
	case o.Kind == sandbox.KindTimedOut:
		return exitTimeout
	default:
		return exitWorkFailure
	}
}
