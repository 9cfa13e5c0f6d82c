package mission

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"sheriff/internal/logging"
)

// MissionOutcome is one mission's result within a fleet run.
type MissionOutcome struct {
	MissionID string
	Err       error
	Summary   ExecutionSummary
}

// Fleet runs independent missions concurrently with a bounded degree of
// parallelism. Missions share nothing but the forbidden-zone ledger and the
// circuit breaker; each keeps its own DAG, state file, and quota.
type Fleet struct {
	maxConcurrent int64
	breaker       *CircuitBreaker

	mu       sync.Mutex
	outcomes []MissionOutcome
}

// NewFleet creates a fleet with the given parallelism bound.
func NewFleet(maxConcurrent int, breaker *CircuitBreaker) *Fleet {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Fleet{maxConcurrent: int64(maxConcurrent), breaker: breaker}
}

// Run executes all missions. Pausing is not a failure; every other error
// counts against the circuit breaker. The first hard error cancels the
// remaining missions.
func (f *Fleet) Run(ctx context.Context, missions []*Orchestrator) ([]MissionOutcome, error) {
	sem := semaphore.NewWeighted(f.maxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range missions {
		m := m
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if f.breaker != nil {
				if err := f.breaker.Allow(); err != nil {
					f.record(m, err)
					return err
				}
			}

			logging.Fleet("mission %s starting", m.MissionID())
			err := m.Run(gctx)
			f.record(m, err)

			switch {
			case err == nil:
				if f.breaker != nil {
					f.breaker.RecordSuccess()
				}
				return nil
			case errors.Is(err, ErrMissionPaused):
				// Quota pause is recoverable and does not trip the breaker
				// or cancel sibling missions.
				return nil
			default:
				if f.breaker != nil {
					f.breaker.RecordFailure()
				}
				return err
			}
		})
	}

	err := g.Wait()

	f.mu.Lock()
	outcomes := append([]MissionOutcome(nil), f.outcomes...)
	f.mu.Unlock()
	return outcomes, err
}

func (f *Fleet) record(m *Orchestrator, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, MissionOutcome{
		MissionID: m.MissionID(),
		Err:       err,
		Summary:   m.Summary(),
	})
}
