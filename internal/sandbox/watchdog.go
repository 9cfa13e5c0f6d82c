package sandbox

import (
	"context"
	"runtime"
	"sync"
	"time"

	"sheriff/internal/logging"
)

// warnFraction is the usage level at which the watchdog flags a warning
// before the hard ceiling is reached.
const warnFraction = 0.8

// watchdogReport is the watchdog's verdict after an execution.
type watchdogReport struct {
	PeakAllocMB float64
	Warned      bool
	Breached    bool
}

// watchdog samples heap allocation concurrently with execution. Usage is
// measured as growth over the baseline taken at start, so the host process's
// own footprint does not count against the quota. Crossing the hard ceiling
// cancels the execution context; the overshoot is bounded by one sampling
// interval's worth of allocation.
type watchdog struct {
	limitMB  int
	interval time.Duration

	mu       sync.Mutex
	baseline uint64
	peak     uint64
	warned   bool
	breached bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newWatchdog(limitMB int) *watchdog {
	return &watchdog{
		limitMB:  limitMB,
		interval: 10 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// Start begins sampling. cancel is invoked on a hard breach.
func (w *watchdog) Start(ctx context.Context, cancel context.CancelFunc) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	w.baseline = ms.HeapAlloc

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		limit := uint64(w.limitMB) * 1024 * 1024
		warnAt := uint64(float64(limit) * warnFraction)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				runtime.ReadMemStats(&ms)
				used := uint64(0)
				if ms.HeapAlloc > w.baseline {
					used = ms.HeapAlloc - w.baseline
				}

				w.mu.Lock()
				if used > w.peak {
					w.peak = used
				}
				if used >= limit && !w.breached {
					w.breached = true
					w.mu.Unlock()
					logging.Sandbox("watchdog: hard memory breach at %.1fMB (limit %dMB)",
						float64(used)/(1024*1024), w.limitMB)
					cancel()
					return
				}
				if used >= warnAt && !w.warned {
					w.warned = true
					logging.Sandbox("watchdog: memory warning at %.1fMB (limit %dMB)",
						float64(used)/(1024*1024), w.limitMB)
				}
				w.mu.Unlock()
			}
		}
	}()
}

// Stop halts sampling and returns the report.
func (w *watchdog) Stop() watchdogReport {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return watchdogReport{
		PeakAllocMB: float64(w.peak) / (1024 * 1024),
		Warned:      w.warned,
		Breached:    w.breached,
	}
}
