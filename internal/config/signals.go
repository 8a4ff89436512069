package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// HeldSignals returns the configured hold set, or nil to use the sandbox
// default. Invalid names are rejected by validate, so they are skipped here.
func (s *SandboxConfig) HeldSignals() []os.Signal {
	sigs, err := parseSignals(s.HoldSignals)
	if err != nil || len(sigs) == 0 {
		return nil
	}
	return sigs
}

// parseSignals resolves names such as "SIGINT" or "term".
func parseSignals(names []string) ([]os.Signal, error) {
	sigs := make([]os.Signal, 0, len(names))
	for _, name := range names {
		n := strings.ToUpper(strings.TrimSpace(name))
		if !strings.HasPrefix(n, "SIG") {
			n = "SIG" + n
		}
		sig := unix.SignalNum(n)
		if sig == 0 {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
