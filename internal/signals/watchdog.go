package signals

import (
	"context"
	"errors"
	"log"
	"time"
)

// FailSafeFunc is invoked for every stale safety-relevant source. The
// receiver is expected to force the fail-safe fallback (ESTOP request).
type FailSafeFunc func(health SourceHealth)

// Watchdog periodically sweeps source health independently of ingestion and
// triggers the fail-safe fallback when a safety-relevant source goes quiet.
type Watchdog struct {
	bus      *Bus
	interval time.Duration
	failSafe FailSafeFunc
	logger   *log.Logger
	clock    Clock
}

// NewWatchdog constructs a watchdog over the bus.
func NewWatchdog(bus *Bus, interval time.Duration, failSafe FailSafeFunc, logger *log.Logger) (*Watchdog, error) {
	if bus == nil {
		return nil, errors.New("signals: nil bus")
	}
	if interval <= 0 {
		return nil, errors.New("signals: non-positive watchdog interval")
	}
	if failSafe == nil {
		return nil, errors.New("signals: nil fail-safe callback")
	}
	return &Watchdog{
		bus:      bus,
		interval: interval,
		failSafe: failSafe,
		logger:   logger,
		clock:    bus.clock,
	}, nil
}

// Run sweeps until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(w.clock.Now())
		}
	}
}

// SweepOnce performs one sweep. The fail-safe callback fires on every sweep
// while a safety-relevant source remains stale, so a reset issued during an
// outage is immediately re-escalated.
func (w *Watchdog) SweepOnce(now time.Time) {
	for _, health := range w.bus.Sweep(now) {
		if !health.SafetyRelevant {
			continue
		}
		if w.logger != nil {
			w.logger.Printf("watchdog fail-safe: source=%s misses=%d", health.SourceID, health.ConsecutiveMisses)
		}
		w.failSafe(health)
	}
}
