package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := NewLimiter(cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("ci"); err != nil {
			t.Fatalf("Allow() #%d = %v, want nil", i, err)
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Allow("ci"); err != nil {
		t.Errorf("nil limiter Allow() = %v", err)
	}
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(Config{RunsPerMinute: 60, Burst: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("ci"); err != nil {
			t.Fatalf("Allow() #%d = %v, want nil", i, err)
		}
	}
	if err := l.Allow("ci"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow() after burst = %v, want ErrRateLimited", err)
	}
	if got := l.RetryAfter("ci"); got != time.Second {
		t.Errorf("RetryAfter() = %v, want 1s", got)
	}

	*now = now.Add(time.Second)
	if err := l.Allow("ci"); err != nil {
		t.Errorf("Allow() after refill = %v, want nil", err)
	}
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{RunsPerMinute: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatalf("Allow(a) = %v", err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second Allow(a) = %v, want ErrRateLimited", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("Allow(b) = %v, want nil", err)
	}
}

func TestLimiter_DropsIdleBuckets(t *testing.T) {
	l, now := newTestLimiter(Config{RunsPerMinute: 1})
	_ = l.Allow("a")
	*now = now.Add(2 * idleAfter)
	_ = l.Allow("b")
	if _, ok := l.clients["a"]; ok {
		t.Error("idle bucket was not dropped")
	}
}
