package sandbox

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// deadline is a one-shot countdown owned by a single invocation.
// The timer callback only stores the flag and closes the channel.
type deadline struct {
	reached atomic.Bool
	fired   chan struct{}
	timer   *time.Timer
}

// armDeadline starts the countdown. A zero duration fires immediately.
func armDeadline(d time.Duration) *deadline {
	dl := &deadline{fired: make(chan struct{})}
	dl.timer = time.AfterFunc(d, func() {
		dl.reached.Store(true)
		close(dl.fired)
	})
	return dl
}

// Reached reports whether the countdown has fired. Once true it stays true.
func (d *deadline) Reached() bool { return d.reached.Load() }

// Done is closed when the countdown fires.
func (d *deadline) Done() <-chan struct{} { return d.fired }

// disarm stops a countdown that has not fired yet.
func (d *deadline) disarm() { d.timer.Stop() }

var defaultHeldSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// signalHold keeps a set of signals from reaching their default action for
// the duration of an invocation. Signals that arrive while held are
// delivered again on release.
//
// Go cannot block a signal process-wide, so channels the caller registered
// with signal.Notify see a held signal twice: once on arrival and once when
// it is re-raised. Signals the caller ignores are left alone, so they stay
// ignored after release.
type signalHold struct {
	ch      chan os.Signal
	signals []os.Signal
}

// holdSignals starts holding sigs. An empty set holds nothing.
func holdSignals(sigs []os.Signal) *signalHold {
	h := &signalHold{}
	for _, sig := range sigs {
		if !signal.Ignored(sig) {
			h.signals = append(h.signals, sig)
		}
	}
	if len(h.signals) == 0 {
		return h
	}
	h.ch = make(chan os.Signal, 2*len(h.signals))
	signal.Notify(h.ch, h.signals...)
	return h
}

// release stops holding and re-raises each distinct signal that arrived.
// It returns the re-raised signals.
func (h *signalHold) release() []os.Signal {
	if h.ch == nil {
		return nil
	}
	signal.Stop(h.ch)

	var pending []os.Signal
	seen := make(map[os.Signal]bool)
drain:
	for {
		select {
		case sig := <-h.ch:
			if !seen[sig] {
				seen[sig] = true
				pending = append(pending, sig)
			}
		default:
			break drain
		}
	}

	for _, sig := range pending {
		if s, ok := sig.(syscall.Signal); ok {
			_ = raise(s)
		}
	}
	return pending
}
