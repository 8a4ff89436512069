package sandbox

import (
	"context"
	"fmt"
)

// Exclusive serializes Execute calls on the wrapped sandbox so that at most
// one child is running at a time.
type Exclusive struct {
	slot  chan struct{} // holds a token while an invocation runs
	inner Sandbox
}

// NewExclusive wraps inner.
func NewExclusive(inner Sandbox) *Exclusive {
	return &Exclusive{slot: make(chan struct{}, 1), inner: inner}
}

// Execute waits for any running invocation to finish, then runs req.
// If ctx is done first, it gives up with an error wrapping ErrSetup and
// ctx.Err(). A started invocation is not bounded by ctx.
func (e *Exclusive) Execute(ctx context.Context, req ExecutionRequest) (*Outcome, error) {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for the running invocation: %w", ErrSetup, ctx.Err())
	}
	defer func() { <-e.slot }()
	return e.inner.Execute(ctx, req)
}
