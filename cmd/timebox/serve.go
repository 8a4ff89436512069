package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/httpapi"
	"github.com/jkaninda/timebox/internal/ratelimit"
	"github.com/jkaninda/timebox/internal/scheduler"
	"github.com/jkaninda/timebox/internal/suite"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled suites",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.ListenAddr = serveAddr
	}
	logger := newLogger(cfg, true)

	suites, err := suite.Load(cfg)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger, sharedOptions{store: true, requireStore: true, output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled suites.
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched, err := scheduler.New(suites, sc.Runner, scheduler.NewMetrics(metricsRegistry(sc)), logger, cfg.Scheduler)
		if err != nil {
			return fmt.Errorf("initializing scheduler: %w", err)
		}
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.HTTP.Addr(),
		EnableDocs:     cfg.HTTP.EnableDocs,
		APIKeys:        cfg.HTTP.APIKeys,
		DefaultTimeout: cfg.Sandbox.DefaultTimeout(),
	}
	if rl := cfg.HTTP.RateLimit; rl != nil {
		gwCfg.RateLimit = ratelimit.Config{RunsPerMinute: rl.RunsPerMinute, Burst: rl.Burst}
	}
	if obs := sc.Obs; obs != nil {
		gwCfg.HealthChecker = obs.Health
		gwCfg.Metrics = obs.Metrics
		if obs.Metrics != nil {
			gwCfg.MetricsRegistry = obs.Metrics.Registry
			if m := cfg.Observability.Metrics; m != nil {
				gwCfg.MetricsPath = m.Path
			}
		}
		gwCfg.Tracer = obs.HTTPTracer()
	}
	if len(cfg.HTTP.APIKeys) == 0 {
		logger.Warn("no API keys configured, /v1 is unauthenticated")
	}

	gw := httpapi.NewGateway(gwCfg, sc.Sandbox, logger).
		WithRunStore(sc.Runs()).
		WithSuites(suites, sc.Runner)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http api exited with error", slog.String("error", err.Error()))
			return err
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http api", slog.String("error", err.Error()))
	}
	return nil
}
