package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	// Output receives the narration line of verbose invocations.
	// Default: os.Stdout.
	Output io.Writer

	// Executable is the binary re-executed as the child. It must call Init
	// first thing in main. Default: os.Executable().
	Executable string

	// Env is appended to the inherited environment of the child.
	Env []string

	// HoldSignals are kept from terminating the parent while a child is
	// alive. Default: SIGINT and SIGTERM.
	HoldSignals []os.Signal

	// DisableSignalHold turns signal holding off entirely.
	DisableSignalHold bool
}

// ProcessSandbox runs each work in a fresh child process.
//
// Guarantees:
//   - Exactly one child per invocation, in its own process group
//   - The whole group is killed with SIGKILL when the deadline is reached
//   - The child is always reaped before Execute returns
//   - Held signals are released on every return path
//
// Every invocation owns its own deadline and child, but the signal hold is
// process-wide: concurrent invocations would each re-raise every held
// signal. Callers that may overlap must go through an Exclusive.
type ProcessSandbox struct {
	output      io.Writer
	executable  string
	env         []string
	heldSignals []os.Signal
	logger      *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	held := cfg.HoldSignals
	if held == nil {
		held = defaultHeldSignals
	}
	if cfg.DisableSignalHold {
		held = nil
	}
	return &ProcessSandbox{
		output:      output,
		executable:  cfg.Executable,
		env:         cfg.Env,
		heldSignals: held,
		logger:      logger,
	}
}

// Execute runs req.Work in a child process and classifies how it ended.
// The returned error is non-nil only for setup failures, which wrap
// ErrSetup; work failures are reported through the Outcome.
// ctx is used for logging only: the deadline is the sole way to stop the child.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	name := req.Work.Name()
	if _, ok := lookupFunc(name); !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrSetup, ErrUnknownWork, name)
	}
	if req.Timeout < 0 {
		return nil, fmt.Errorf("%w: %w: %s", ErrSetup, ErrNegativeTimeout, req.Timeout)
	}
	exe, err := s.resolveExecutable()
	if err != nil {
		return nil, fmt.Errorf("%w: resolving executable: %w", ErrSetup, err)
	}

	// 1. Hold interrupt/terminate until the child is reaped.
	hold := holdSignals(s.heldSignals)
	defer func() {
		if held := hold.release(); len(held) > 0 {
			s.logger.InfoContext(ctx, "re-delivering held signals",
				slog.String("work", name),
				slog.Any("signals", held),
			)
		}
	}()

	// 2. Build the child: this binary again, told which work to run.
	cmd := exec.Command(exe)
	cmd.Env = append(append(os.Environ(), s.env...), workEnvKey+"="+name)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = sysProcAttr()

	s.logger.InfoContext(ctx, "sandbox executing",
		slog.String("work", name),
		slog.Duration("timeout", req.Timeout),
	)

	// 3. Arm the deadline and spawn.
	dl := armDeadline(req.Timeout)
	defer dl.disarm()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting child for %q: %w", ErrSetup, name, err)
	}
	c := watch(cmd)

	// 4. Race child termination against the deadline.
	t, state := s.reconcile(ctx, c, dl)
	duration := time.Since(start)

	out := &Outcome{
		ID:        uuid.New(),
		Work:      name,
		Timeout:   req.Timeout,
		PID:       cmd.Process.Pid,
		StartedAt: start.UTC(),
		Duration:  duration,
	}
	if state == stateTimedOut {
		out.Kind = KindTimedOut
		s.logger.WarnContext(ctx, "sandbox execution timed out",
			slog.String("work", name),
			slog.Int("pid", out.PID),
			slog.Duration("timeout", req.Timeout),
			slog.Duration("duration", duration),
		)
	} else {
		classify(t, out)
		s.logger.InfoContext(ctx, "sandbox execution completed",
			slog.String("work", name),
			slog.Int("pid", out.PID),
			slog.String("outcome", out.Kind.String()),
			slog.Int("exit_code", out.ExitCode),
			slog.String("signal", out.SignalName()),
			slog.Duration("duration", duration),
		)
	}

	if req.Verbose {
		fmt.Fprintln(s.output, out.Narration())
	}
	return out, nil
}

func (s *ProcessSandbox) resolveExecutable() (string, error) {
	if s.executable != "" {
		return s.executable, nil
	}
	return os.Executable()
}

// child is a started process plus the channel its reaped status arrives on.
type child struct {
	cmd    *exec.Cmd
	exited chan termination
}

// watch reaps cmd in the background and publishes its decoded status once.
func watch(cmd *exec.Cmd) *child {
	c := &child{cmd: cmd, exited: make(chan termination, 1)}
	go func() {
		// Non-zero exits and signal deaths surface through ProcessState.
		_ = cmd.Wait()
		ps := cmd.ProcessState
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			c.exited <- decodeStatus(ws)
			return
		}
		c.exited <- termination{code: ps.ExitCode()}
	}()
	return c
}

type loopState int

const (
	statePolling loopState = iota
	stateChildDone
	stateTimedOut
)

// reconcile waits until either the child terminates or the deadline is
// reached. Child termination is always checked first, so a child that ends
// as the deadline fires reports its own status.
func (s *ProcessSandbox) reconcile(ctx context.Context, c *child, dl *deadline) (termination, loopState) {
	for {
		select {
		case t := <-c.exited:
			return t, stateChildDone
		default:
		}

		if dl.Reached() {
			if err := killGroup(c.cmd.Process); err != nil {
				s.logger.WarnContext(ctx, "killing sandbox child",
					slog.Int("pid", c.cmd.Process.Pid),
					slog.String("error", err.Error()),
				)
			}
			// The child is dying; this wait is bounded.
			t := <-c.exited
			if !t.killedByGuard() {
				return t, stateChildDone
			}
			return t, stateTimedOut
		}

		select {
		case t := <-c.exited:
			return t, stateChildDone
		case <-dl.Done():
		}
	}
}
