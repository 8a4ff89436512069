// Package works registers the built-in demonstration works. Import it for
// its side effects:
//
//	import _ "github.com/jkaninda/timebox/internal/works"
//
// Each work covers one way a child can end.
package works

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jkaninda/timebox/internal/sandbox"
)

var (
	// Nice returns normally.
	Nice = sandbox.Register("nice", func() {})

	// Exit7 exits with status 7.
	Exit7 = sandbox.Register("exit-7", func() { os.Exit(7) })

	// SleepForever never returns on its own.
	SleepForever = sandbox.Register("sleep-forever", sleepForever)

	// BusyLoop spins on the CPU until killed.
	BusyLoop = sandbox.Register("busy-loop", busyLoop)

	// DivideByZero triggers a runtime panic, which aborts the child.
	DivideByZero = sandbox.Register("divide-by-zero", func() {
		_ = 1 / zero
	})

	// TerminateSelf delivers SIGTERM to itself with the default disposition.
	TerminateSelf = sandbox.Register("terminate-self", func() { raise(unix.SIGTERM) })

	// KillSelf delivers SIGKILL to itself.
	KillSelf = sandbox.Register("kill-self", func() { raise(unix.SIGKILL) })

	// QuickSleep sleeps briefly and returns.
	QuickSleep = sandbox.Register("quick-sleep", func() { time.Sleep(100 * time.Millisecond) })

	// IgnoreTerm ignores SIGTERM and blocks; only SIGKILL can end it.
	IgnoreTerm = sandbox.Register("ignore-term", func() {
		signal.Ignore(unix.SIGTERM)
		sleepForever()
	})
)

// zero is a variable so the division is not rejected at compile time.
var zero = 0

func sleepForever() {
	for {
		time.Sleep(time.Hour)
	}
}

var sink uint64

func busyLoop() {
	for i := uint64(0); ; i++ {
		sink = i
	}
}

func raise(sig unix.Signal) {
	_ = unix.Kill(unix.Getpid(), sig)
	// Delivery is asynchronous; wait for it.
	sleepForever()
}
