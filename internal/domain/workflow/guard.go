package workflow

import (
	"context"
	"time"
)

// GuardFunc evaluates whether a transition should be allowed.
// A nil return passes; a non-nil error carries the operator-facing reason.
type GuardFunc func(ctx context.Context) error

// Guard is a named transition predicate. The name is surfaced to the
// operator on failure, never the raw fault.
type Guard struct {
	Name  string
	Check GuardFunc
}

// Evaluate runs the guard under the given time budget. Exceeding the budget
// counts as a failure: the gate fails safe, never open.
func (g Guard) Evaluate(ctx context.Context, budget time.Duration) error {
	guardCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Check(guardCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-guardCtx.Done():
		return ErrGuardTimeout
	}
}
