package registry

import (
	"context"
	"errors"
	"fmt"
)

var ErrCohortNeverFormed = errors.New("cohort never formed")

// cohortGate is a one-shot latch. It is released once, either because the
// cohort formed (err == nil) or because it was cancelled, and never resets.
// Its fields are guarded by the owning Registry's lock.
type cohortGate struct {
	done     chan struct{}
	err      error
	released bool
}

func newCohortGate() *cohortGate {
	return &cohortGate{done: make(chan struct{})}
}

func (g *cohortGate) release(err error) bool {
	if g.released {
		return false
	}
	g.released = true
	g.err = err
	close(g.done)
	return true
}

// WaitCohort blocks until the cohort forms. It returns ErrCohortNeverFormed if
// the gate was cancelled or ctx ended first.
func (r *Registry) WaitCohort(ctx context.Context) error {
	select {
	case <-r.gate.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.gate.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCohortNeverFormed, ctx.Err())
	}
}

// CancelCohort wakes every waiter with ErrCohortNeverFormed unless the cohort
// already formed. It reports whether it released the gate.
func (r *Registry) CancelCohort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gate.release(ErrCohortNeverFormed)
}

func (r *Registry) CohortFormed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gate.released && r.gate.err == nil
}
