package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// zero is a variable so the division below is not folded at compile time.
var zero int

var (
	workNice  = Register("test-nice", func() {})
	workExit7 = Register("test-exit-7", func() { os.Exit(7) })
	workSleep = Register("test-sleep-forever", func() {
		for {
			time.Sleep(time.Hour)
		}
	})
	workDivideByZero = Register("test-divide-by-zero", func() {
		fmt.Println(1 / zero)
	})
	workKillSelf = Register("test-kill-self", func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Second)
	})
	workSignalParent = Register("test-signal-parent", func() {
		_ = syscall.Kill(os.Getppid(), syscall.SIGUSR1)
		time.Sleep(200 * time.Millisecond)
	})
	workIgnoreTerm = Register("test-ignore-term", func() {
		signal.Ignore(syscall.SIGTERM)
		for {
			time.Sleep(time.Hour)
		}
	})
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func newTestSandbox(out *bytes.Buffer) *ProcessSandbox {
	return NewProcessSandbox(ProcessConfig{Output: out}, nil)
}

func TestExecute_Success(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workNice, Timeout: 5 * time.Second, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !o.OK() {
		t.Errorf("OK() = false, kind = %v", o.Kind)
	}
	if got, want := out.String(), "Nice function!\n"; got != want {
		t.Errorf("narration = %q, want %q", got, want)
	}
	if o.Duration > 2*time.Second {
		t.Errorf("duration = %v, want well under the timeout", o.Duration)
	}
	if o.PID <= 0 {
		t.Errorf("pid = %d, want > 0", o.PID)
	}
	if o.Work != "test-nice" {
		t.Errorf("work = %q, want test-nice", o.Work)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workExit7, Timeout: 5 * time.Second, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindExited {
		t.Fatalf("kind = %v, want %v", o.Kind, KindExited)
	}
	if o.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", o.ExitCode)
	}
	if o.OK() {
		t.Error("OK() = true for non-zero exit")
	}
	if got, want := out.String(), "Bad function: exited with code 7\n"; got != want {
		t.Errorf("narration = %q, want %q", got, want)
	}
}

func TestExecute_KilledBySignal(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workKillSelf, Timeout: 5 * time.Second, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindSignaled {
		t.Fatalf("kind = %v, want %v", o.Kind, KindSignaled)
	}
	if o.Signal != syscall.SIGKILL {
		t.Errorf("signal = %v, want SIGKILL", o.Signal)
	}
	if o.SignalName() != "SIGKILL" {
		t.Errorf("SignalName() = %q, want SIGKILL", o.SignalName())
	}
	if got, want := out.String(), "Bad function: Killed\n"; got != want {
		t.Errorf("narration = %q, want %q", got, want)
	}
}

func TestExecute_CrashIsSignalDeath(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workDivideByZero, Timeout: 10 * time.Second, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindSignaled {
		t.Fatalf("kind = %v, want %v (never timeout or success)", o.Kind, KindSignaled)
	}
	if o.Signal != syscall.SIGABRT {
		t.Errorf("signal = %v, want SIGABRT", o.Signal)
	}
	if !strings.HasPrefix(out.String(), "Bad function: ") {
		t.Errorf("narration = %q, want Bad function prefix", out.String())
	}
}

func TestExecute_Timeout(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	timeout := 300 * time.Millisecond
	start := time.Now()
	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workSleep, Timeout: timeout, Verbose: true})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindTimedOut {
		t.Fatalf("kind = %v, want %v", o.Kind, KindTimedOut)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v deadline", elapsed, timeout)
	}
	if elapsed > timeout+2*time.Second {
		t.Errorf("returned after %v, want close to %v", elapsed, timeout)
	}
	if got, want := out.String(), "Bad function: timed out after 0.3 seconds\n"; got != want {
		t.Errorf("narration = %q, want %q", got, want)
	}
}

func TestExecute_TimeoutIgnoresSIGTERM(t *testing.T) {
	s := newTestSandbox(&bytes.Buffer{})

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workIgnoreTerm, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindTimedOut {
		t.Errorf("kind = %v, want %v", o.Kind, KindTimedOut)
	}
}

func TestExecute_ZeroTimeout(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workSleep, Timeout: 0, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if o.Kind != KindTimedOut {
		t.Fatalf("kind = %v, want %v", o.Kind, KindTimedOut)
	}
	if got, want := out.String(), "Bad function: timed out after 0 seconds\n"; got != want {
		t.Errorf("narration = %q, want %q", got, want)
	}
}

func TestExecute_QuietWritesNothing(t *testing.T) {
	var out bytes.Buffer
	s := newTestSandbox(&out)

	if _, err := s.Execute(context.Background(), ExecutionRequest{Work: workExit7, Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want empty", out.String())
	}
}

func TestExecute_SetupFailures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProcessConfig
		req     ExecutionRequest
		wantErr error
	}{
		{"zero work", ProcessConfig{}, ExecutionRequest{Timeout: time.Second}, ErrUnknownWork},
		{"negative timeout", ProcessConfig{}, ExecutionRequest{Work: workNice, Timeout: -time.Second}, ErrNegativeTimeout},
		{"missing executable", ProcessConfig{Executable: "/nonexistent/timebox-child"}, ExecutionRequest{Work: workNice, Timeout: time.Second}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tt.cfg.Output = &out
			s := NewProcessSandbox(tt.cfg, nil)

			o, err := s.Execute(context.Background(), tt.req)
			if err == nil {
				t.Fatalf("Execute() = %v, want setup error", o)
			}
			if !errors.Is(err, ErrSetup) {
				t.Errorf("error %v does not wrap ErrSetup", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
			if out.Len() != 0 {
				t.Errorf("setup failure produced narration %q", out.String())
			}
		})
	}
}

func TestExecute_NoResidualChildren(t *testing.T) {
	s := newTestSandbox(&bytes.Buffer{})
	works := []struct {
		work    Work
		timeout time.Duration
	}{
		{workNice, 5 * time.Second},
		{workExit7, 5 * time.Second},
		{workSleep, 0},
		{workKillSelf, 5 * time.Second},
		{workSleep, 20 * time.Millisecond},
	}

	for i := 0; i < 40; i++ {
		w := works[i%len(works)]
		if _, err := s.Execute(context.Background(), ExecutionRequest{Work: w.work, Timeout: w.timeout}); err != nil {
			t.Fatalf("run %d: Execute() error: %v", i, err)
		}
	}

	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	if !errors.Is(err, unix.ECHILD) {
		t.Errorf("Wait4 = (%d, %v), want ECHILD (no children left)", pid, err)
	}
}

func TestExecute_HeldSignalDeliveredAfterReturn(t *testing.T) {
	caller := make(chan os.Signal, 8)
	signal.Notify(caller, syscall.SIGUSR1)
	defer signal.Stop(caller)

	s := NewProcessSandbox(ProcessConfig{
		Output:      &bytes.Buffer{},
		HoldSignals: []os.Signal{syscall.SIGUSR1},
	}, nil)

	o, err := s.Execute(context.Background(), ExecutionRequest{Work: workSignalParent, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !o.OK() {
		t.Fatalf("kind = %v, want success", o.Kind)
	}

	// One delivery while the child ran, one re-delivery on release.
	for i := 0; i < 2; i++ {
		select {
		case <-caller:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d SIGUSR1 deliveries, want 2", i)
		}
	}
}

func TestExecute_RestoresIgnoredSignals(t *testing.T) {
	signal.Ignore(syscall.SIGTERM)
	defer signal.Reset(syscall.SIGTERM)

	s := NewProcessSandbox(ProcessConfig{Output: &bytes.Buffer{}}, nil)
	if _, err := s.Execute(context.Background(), ExecutionRequest{Work: workNice, Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !signal.Ignored(syscall.SIGTERM) {
		t.Error("SIGTERM is no longer ignored after Execute")
	}
}

func TestReconcile_ChildTerminationWinsTie(t *testing.T) {
	s := newTestSandbox(&bytes.Buffer{})

	c := &child{exited: make(chan termination, 1)}
	c.exited <- termination{code: 0}
	dl := armDeadline(0)
	<-dl.Done()

	got, state := s.reconcile(context.Background(), c, dl)
	if state != stateChildDone {
		t.Errorf("state = %v, want stateChildDone", state)
	}
	if got.signaled || got.code != 0 {
		t.Errorf("termination = %+v, want clean exit", got)
	}
}

func TestRun_Default(t *testing.T) {
	o, err := Run(context.Background(), workNice, 5*time.Second, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !o.OK() {
		t.Errorf("Run() kind = %v, want success", o.Kind)
	}
}
