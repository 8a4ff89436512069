package sandbox

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"sync"
	"syscall"
)

// workEnvKey names the work a re-executed child must run.
const workEnvKey = "TIMEBOX_SANDBOX_WORK"

// exitUnknownWork is used by a child asked to run a name it does not know.
// The parent validates names before spawning, so this only shows up when
// parent and child binaries disagree.
const exitUnknownWork = 127

var (
	registryMu sync.RWMutex
	registry   = map[string]func(){}
)

// Work is a handle to a callable registered with Register.
// The zero Work is invalid.
type Work struct {
	name string
}

// Name returns the registered name, or "" for the zero Work.
func (w Work) Name() string { return w.name }

func (w Work) String() string { return w.name }

// Register binds name to fn so it can be run in a child process.
// It must be called during package initialization, identically in every
// process, because the child resolves the name in its own registry.
// Register panics on an empty or duplicate name.
func Register(name string, fn func()) Work {
	if name == "" {
		panic("sandbox: Register called with empty name")
	}
	if fn == nil {
		panic(fmt.Sprintf("sandbox: Register %q with nil func", name))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("sandbox: Register called twice for %q", name))
	}
	registry[name] = fn
	return Work{name: name}
}

// Lookup returns the Work registered under name.
func Lookup(name string) (Work, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if _, ok := registry[name]; !ok {
		return Work{}, false
	}
	return Work{name: name}, true
}

// Works returns all registered names, sorted.
func Works() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFunc(name string) (func(), bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Init turns the current process into a sandbox child when it was spawned
// as one. In that case it runs the requested work and exits; it never
// returns. In any other process it returns immediately.
func Init() {
	name, ok := os.LookupEnv(workEnvKey)
	if !ok {
		return
	}
	_ = os.Unsetenv(workEnvKey)
	runChild(name)
}

// runChild executes one work with default signal dispositions.
func runChild(name string) {
	// Dispositions installed by the parent binary's init code must not leak
	// into the work's own signal semantics.
	signal.Reset(syscall.SIGALRM, syscall.SIGINT, syscall.SIGTERM)

	// A runtime panic dies by SIGABRT instead of exit status 2.
	debug.SetTraceback("crash")

	fn, ok := lookupFunc(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "sandbox: no work registered as %q\n", name)
		os.Exit(exitUnknownWork)
	}
	fn()
	os.Exit(0)
}
