// Package suite runs named, ordered lists of sandbox invocations and checks
// each outcome against an expectation.
package suite

import (
	"fmt"
	"time"

	"github.com/jkaninda/timebox/internal/config"
	"github.com/jkaninda/timebox/internal/sandbox"
)

// Case is one expected sandbox invocation.
type Case struct {
	Name     string
	Work     string
	Timeout  time.Duration
	Expect   sandbox.Kind
	ExitCode *int // Checked only when Expect is KindExited.
}

// Matches reports whether o satisfies the case expectation.
func (c Case) Matches(o *sandbox.Outcome) bool {
	if o == nil || o.Kind != c.Expect {
		return false
	}
	if c.Expect == sandbox.KindExited && c.ExitCode != nil {
		return o.ExitCode == *c.ExitCode
	}
	return true
}

// Suite is a named list of cases run in order.
type Suite struct {
	Name     string
	Schedule string
	Cases    []Case
}

// FromConfig builds a Suite. Cases without a timeout use defaultTimeout.
func FromConfig(sc config.SuiteConfig, defaultTimeout time.Duration) (Suite, error) {
	s := Suite{
		Name:     sc.Name,
		Schedule: sc.Schedule,
		Cases:    make([]Case, 0, len(sc.Cases)),
	}
	for i, cc := range sc.Cases {
		c := Case{
			Name:     cc.Name,
			Work:     cc.Work,
			Timeout:  defaultTimeout,
			Expect:   sandbox.KindSuccess,
			ExitCode: cc.ExitCode,
		}
		if c.Name == "" {
			c.Name = cc.Work
		}
		if cc.TimeoutSeconds != nil {
			t, err := sandbox.TimeoutFromSeconds(*cc.TimeoutSeconds)
			if err != nil {
				return Suite{}, fmt.Errorf("suite %q case %d: %w", sc.Name, i, err)
			}
			c.Timeout = t
		}
		if cc.Expect != "" {
			kind, err := sandbox.ParseKind(cc.Expect)
			if err != nil {
				return Suite{}, fmt.Errorf("suite %q case %d: %w", sc.Name, i, err)
			}
			c.Expect = kind
		}
		s.Cases = append(s.Cases, c)
	}
	return s, nil
}

// Load builds every configured suite.
func Load(cfg *config.Config) ([]Suite, error) {
	timeout := cfg.Sandbox.DefaultTimeout()
	suites := make([]Suite, 0, len(cfg.Suites))
	for _, sc := range cfg.Suites {
		s, err := FromConfig(sc, timeout)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}
