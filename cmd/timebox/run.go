package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

var (
	runTimeout   string
	runQuiet     bool
	runNoHistory bool
)

var runCmd = &cobra.Command{
	Use:   "run <work>",
	Short: "Run one work in the sandbox and print how it ended",
	Example: `  timebox run nice
  timebox run sleep-forever --timeout 1.5
  timebox run busy-loop --timeout 500ms --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTimeout, "timeout", "t", "", "deadline as seconds (2, 0.5) or a duration (1m30s); default from config")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print the narration line")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "do not record the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	work, ok := sandbox.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: %q (see 'timebox list')", sandbox.ErrUnknownWork, args[0])
	}

	timeout := cfg.Sandbox.DefaultTimeout()
	if runTimeout != "" {
		timeout, err = parseTimeout(runTimeout)
		if err != nil {
			return err
		}
	}

	sc, err := initShared(cfg, logger, sharedOptions{store: !runNoHistory, output: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx := context.Background()
	out, err := sc.Sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Work:    work,
		Timeout: timeout,
		Verbose: !runQuiet && cfg.Sandbox.IsVerbose(),
	})
	if err != nil {
		return err
	}

	if runs := sc.Runs(); runs != nil {
		if err := runs.Record(ctx, storage.RunFromOutcome(out, "")); err != nil {
			logger.Warn("recording run failed", slog.String("error", err.Error()))
		}
	}

	if code := exitCodeFor(out); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

// parseTimeout accepts plain seconds ("2", "0.5") or a Go duration ("1m30s").
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return sandbox.TimeoutFromSeconds(secs)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: want seconds or a duration such as 1m30s", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s", sandbox.ErrNegativeTimeout, s)
	}
	return d, nil
}
