// Timebox runs registered works in isolated child processes under a
// wall-clock deadline and reports how each one ended.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/sandbox"
	_ "github.com/jkaninda/timebox/internal/works"
)

// Process exit codes.
const (
	exitOK          = 0
	exitSetup       = 1
	exitWorkFailure = 2
	exitTimeout     = 3
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "timebox",
	Short: "Timebox runs a function in a sandboxed child process under a deadline.",
	Long: `Timebox executes registered works in a separate child process, enforces a
wall-clock deadline, and classifies each run as a success, a non-zero exit,
a death by signal, or a timeout. Runs can be recorded, grouped into suites,
scheduled with cron expressions, and triggered over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.AddCommand(runCmd, listCmd, suiteCmd, historyCmd, serveCmd, versionCmd)
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error // nil = the command already reported the failure.
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	// Must run before anything else: a sandbox child runs its work here and exits.
	sandbox.Init()

	if err := rootCmd.Execute(); err != nil {
		code := exitSetup
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
			if ee.err == nil {
				os.Exit(code)
			}
		}
		fmt.Fprintf(os.Stderr, "timebox: %v\n", err)
		os.Exit(code)
	}
	os.Exit(exitOK)
}
