package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSandbox struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (c *countingSandbox) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	n := c.running.Add(1)
	defer c.running.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return &Outcome{Work: req.Work.Name(), Kind: KindSuccess}, nil
}

func TestExclusive_OneAtATime(t *testing.T) {
	inner := &countingSandbox{}
	ex := NewExclusive(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ex.Execute(context.Background(), ExecutionRequest{Work: workNice}); err != nil {
				t.Errorf("Execute() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.peak.Load(); got != 1 {
		t.Errorf("peak concurrent executions = %d, want 1", got)
	}
}

// blockingSandbox runs until release is closed.
type blockingSandbox struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSandbox) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	close(b.started)
	<-b.release
	return &Outcome{Work: req.Work.Name(), Kind: KindSuccess}, nil
}

func TestExclusive_WaitRespectsContext(t *testing.T) {
	inner := &blockingSandbox{started: make(chan struct{}), release: make(chan struct{})}
	ex := NewExclusive(inner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ex.Execute(context.Background(), ExecutionRequest{Work: workNice})
	}()
	<-inner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := ex.Execute(ctx, ExecutionRequest{Work: workNice})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrSetup) {
		t.Errorf("Execute() error = %v, want ErrSetup wrapping DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute() waited %v for a busy sandbox, want about 50ms", elapsed)
	}

	close(inner.release)
	<-done
}
