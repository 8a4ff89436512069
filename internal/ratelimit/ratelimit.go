// Package ratelimit limits how often each API client may start sandbox runs.
// Every client has its own token bucket, refilled lazily on each Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleAfter is how long an untouched full bucket is kept before it is dropped.
const idleAfter = 10 * time.Minute

// Config configures the limiter.
type Config struct {
	RunsPerMinute int // Tokens added per minute. 0 = unlimited.
	Burst         int // Bucket capacity. 0 = RunsPerMinute.
}

// Limiter is a per-client token bucket limiter. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
	lastGC  time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter. A nil *Limiter allows everything.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RunsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		clients: make(map[string]*bucket),
		rate:    float64(cfg.RunsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow consumes one token for client, or returns ErrRateLimited.
func (l *Limiter) Allow(client string) error {
	if l == nil || l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.collect(now)

	b, ok := l.clients[client]
	if !ok {
		// First request: start with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.clients[client] = b
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.lastFill).Seconds()*l.rate)
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// RetryAfter returns how long client must wait for the next token.
func (l *Limiter) RetryAfter(client string) time.Duration {
	if l == nil || l.rate <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		return 0
	}
	tokens := b.tokens + l.now().Sub(b.lastFill).Seconds()*l.rate
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / l.rate * float64(time.Second))
}

// collect drops buckets that have been idle long enough to be full again.
// Must be called with l.mu held.
func (l *Limiter) collect(now time.Time) {
	if now.Sub(l.lastGC) < idleAfter {
		return
	}
	l.lastGC = now
	for client, b := range l.clients {
		if now.Sub(b.lastFill) > idleAfter {
			delete(l.clients, client)
		}
	}
}
