package sandbox

import (
	"fmt"
	"strconv"
	"syscall"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Kind classifies how a sandboxed work ended. Exactly one Kind applies to
// each invocation.
type Kind int

const (
	KindSuccess  Kind = iota // exited with code 0
	KindExited               // exited with a non-zero code
	KindSignaled             // terminated by a signal
	KindTimedOut             // deadline reached first; child was killed
)

var kindNames = [...]string{
	KindSuccess:  "success",
	KindExited:   "nonzero_exit",
	KindSignaled: "signaled",
	KindTimedOut: "timeout",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome kind %q", s)
}

// MarshalText encodes the kind as its string form.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind from its string form.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Outcome is the classified result of one invocation.
type Outcome struct {
	ID        uuid.UUID
	Work      string
	Kind      Kind
	ExitCode  int            // meaningful for KindSuccess and KindExited
	Signal    syscall.Signal // meaningful for KindSignaled
	Timeout   time.Duration
	PID       int
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the work exited with code 0.
func (o *Outcome) OK() bool { return o != nil && o.Kind == KindSuccess }

// Narration returns the one-line human-readable description of the outcome.
func (o *Outcome) Narration() string {
	switch o.Kind {
	case KindSuccess:
		return "Nice function!"
	case KindExited:
		return fmt.Sprintf("Bad function: exited with code %d", o.ExitCode)
	case KindSignaled:
		return "Bad function: " + describeSignal(o.Signal)
	case KindTimedOut:
		return fmt.Sprintf("Bad function: timed out after %s seconds", formatSeconds(o.Timeout))
	default:
		return "Bad function: unknown outcome"
	}
}

// SignalName returns the symbolic signal name (e.g. "SIGKILL"), or "" when
// the outcome is not a signal death.
func (o *Outcome) SignalName() string {
	if o.Kind != KindSignaled {
		return ""
	}
	if name := unix.SignalName(o.Signal); name != "" {
		return name
	}
	return "SIG" + strconv.Itoa(int(o.Signal))
}

func (o *Outcome) String() string {
	return fmt.Sprintf("%s: %s", o.Work, o.Narration())
}

// termination is the decoded form of a process wait status.
type termination struct {
	signaled bool
	code     int
	signal   syscall.Signal
}

// decodeStatus is the single place where raw wait statuses are interpreted.
func decodeStatus(ws syscall.WaitStatus) termination {
	if ws.Signaled() {
		return termination{signaled: true, signal: ws.Signal()}
	}
	return termination{code: ws.ExitStatus()}
}

// killedByGuard reports whether t is the result of the deadline kill.
func (t termination) killedByGuard() bool {
	return t.signaled && t.signal == syscall.SIGKILL
}

// classify maps a child termination onto the outcome taxonomy.
func classify(t termination, o *Outcome) {
	switch {
	case t.signaled:
		o.Kind = KindSignaled
		o.Signal = t.signal
	case t.code == 0:
		o.Kind = KindSuccess
	default:
		o.Kind = KindExited
		o.ExitCode = t.code
	}
}

// describeSignal returns the descriptive signal text with a leading capital,
// e.g. "Segmentation fault" or "Killed".
func describeSignal(sig syscall.Signal) string {
	s := sig.String()
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// formatSeconds renders d in seconds without trailing zeros.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
