// Package sandbox runs a registered unit of work in an isolated child process
// under a wall-clock deadline and classifies how it ended.
//
// The child is a re-execution of the current binary. Programs that use the
// sandbox must call Init as the very first statement of main (and of TestMain
// in tests) so that a spawned child runs its work instead of the program.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Setup failures. Work failures are never reported as errors; they are
// Outcome values.
var (
	ErrSetup           = errors.New("sandbox setup failed")
	ErrUnknownWork     = errors.New("unknown work")
	ErrNegativeTimeout = errors.New("timeout must not be negative")
	ErrTimeoutRange    = errors.New("timeout out of range")
)

// MaxTimeoutSeconds is the largest timeout, in seconds, a time.Duration holds.
const MaxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

// TimeoutFromSeconds converts a timeout given in (possibly fractional)
// seconds, rejecting negative values and values a Duration cannot hold.
func TimeoutFromSeconds(secs float64) (time.Duration, error) {
	ns := secs * float64(time.Second)
	switch {
	case math.IsNaN(ns) || ns >= float64(math.MaxInt64):
		return 0, fmt.Errorf("%w: %v seconds (max %.0f)", ErrTimeoutRange, secs, MaxTimeoutSeconds)
	case secs < 0:
		return 0, fmt.Errorf("%w: %v seconds", ErrNegativeTimeout, secs)
	}
	return time.Duration(ns), nil
}

// Sandbox executes a unit of work in an isolated child process.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error)
}

// ExecutionRequest defines what to run and under what deadline.
type ExecutionRequest struct {
	// Work is the registered unit of work to run in the child.
	Work Work

	// Timeout is the wall-clock deadline. Zero is valid and means the
	// deadline fires immediately after arming.
	Timeout time.Duration

	// Verbose prints one narration line to the sandbox output.
	Verbose bool
}

// Run executes work once with a default ProcessSandbox and returns its
// classified outcome.
func Run(ctx context.Context, work Work, timeout time.Duration, verbose bool) (*Outcome, error) {
	s := NewProcessSandbox(ProcessConfig{}, slog.New(slog.DiscardHandler))
	return s.Execute(ctx, ExecutionRequest{Work: work, Timeout: timeout, Verbose: verbose})
}
