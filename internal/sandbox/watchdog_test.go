package sandbox

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatchdogStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWatchdog(512)
	w.Start(ctx, cancel)
	time.Sleep(50 * time.Millisecond)

	report := w.Stop()
	if report.Breached {
		t.Error("idle watchdog must not report a breach")
	}
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWatchdog(512)
	w.Start(ctx, cancel)

	w.Stop()
	w.Stop()
}

func TestWatchdogExitsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())

	w := newWatchdog(512)
	w.Start(ctx, cancel)
	cancel()
	time.Sleep(30 * time.Millisecond)

	w.Stop()
}
