package interlock

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Watchdog polls the gate at fine granularity while an exposure is in
// flight. An unsafe flip (the door opening mid-exposure) must reach the
// abort path in under 10 ms, not on the next coarse heartbeat. This is
// the one non-negotiable timing property of the system.
type Watchdog struct {
	gate     *Gate
	interval time.Duration
	logger   *zap.Logger
}

// NewWatchdog creates a watchdog polling at the given interval (1 ms in
// production configuration)
func NewWatchdog(gate *Gate, interval time.Duration, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		gate:     gate,
		interval: interval,
		logger:   logger,
	}
}

// Watch polls the gate until the context is cancelled or an interlock
// turns unsafe. On an unsafe snapshot it invokes onUnsafe exactly once
// and returns the offending snapshot with breached true. A clean stop
// returns the last snapshot with breached false.
func (w *Watchdog) Watch(ctx context.Context, onUnsafe func(Status)) (snap Status, breached bool) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.gate.Snapshot(), false
		case <-ticker.C:
			snap := w.gate.Snapshot()
			if snap.ExposureBlocked() {
				w.logger.Warn("Interlock fault during active exposure",
					zap.Any("unsafe_flags", snap.UnsafeFlags()))
				onUnsafe(snap)
				return snap, true
			}
		}
	}
}
