package signals

import (
	"errors"
	"log"
	"sync"
	"time"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// Bus owns the current Signal value and SourceHealth for every registered
// source. Producers call Ingest concurrently; the decision cycle reads
// through Snapshot. Latest-value semantics: a newer reading overwrites the
// previous one, nothing queues.
type Bus struct {
	mu      sync.Mutex
	specs   map[string]SourceSpec
	order   []string
	signals map[string]Signal
	health  map[string]SourceHealth
	seq     map[string]uint64
	version uint64

	missFactor float64
	clock      Clock
	logger     *log.Logger
}

// BusOption customizes the bus.
type BusOption func(*Bus)

// WithClock assigns a clock.
func WithClock(clock Clock) BusOption {
	return func(b *Bus) {
		b.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus constructs a bus for the declared sources. The missed-cycle factor
// scales each source's expected cycle into its staleness threshold.
func NewBus(sources []SourceSpec, missFactor float64, opts ...BusOption) (*Bus, error) {
	if len(sources) == 0 {
		return nil, errors.New("signals: no sources declared")
	}
	if missFactor < 1 {
		return nil, errors.New("signals: missed-cycle factor must be >= 1")
	}
	bus := &Bus{
		specs:      make(map[string]SourceSpec, len(sources)),
		signals:    make(map[string]Signal, len(sources)),
		health:     make(map[string]SourceHealth, len(sources)),
		seq:        make(map[string]uint64, len(sources)),
		missFactor: missFactor,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(bus)
	}
	now := bus.clock.Now()
	for _, spec := range sources {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := bus.specs[spec.ID]; dup {
			return nil, errors.New("signals: duplicate source id " + spec.ID)
		}
		bus.specs[spec.ID] = spec
		bus.order = append(bus.order, spec.ID)
		bus.health[spec.ID] = SourceHealth{
			SourceID:       spec.ID,
			ExpectedCycle:  spec.ExpectedCycle,
			LastSeen:       now,
			SafetyRelevant: spec.SafetyRelevant,
		}
	}
	return bus, nil
}

// Ingest validates a raw reading, normalizes it into a Signal and refreshes
// the source's health. Rejected readings never affect state.
func (b *Bus) Ingest(r Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	spec, ok := b.specs[r.SourceID]
	if !ok {
		return ErrUnknownSource
	}
	if r.Kind != spec.Kind {
		return ErrKindMismatch
	}
	if err := validReading(r); err != nil {
		return err
	}
	if current, ok := b.signals[r.SourceID]; ok && r.Timestamp.Before(current.Timestamp) {
		return ErrStaleReading
	}

	b.seq[r.SourceID]++
	b.signals[r.SourceID] = Signal{
		SourceID:  r.SourceID,
		Kind:      spec.Kind,
		Value:     r.Value,
		Unit:      spec.Unit,
		Timestamp: r.Timestamp,
		Sequence:  b.seq[r.SourceID],
	}

	health := b.health[r.SourceID]
	health.LastSeen = b.clock.Now()
	health.ConsecutiveMisses = 0
	health.Stale = false
	b.health[r.SourceID] = health
	b.version++
	return nil
}

// Sweep recomputes missed-cycle counts and staleness for every source and
// returns the health of sources currently stale. Called by the watchdog.
func (b *Bus) Sweep(now time.Time) []SourceHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stale []SourceHealth
	for id, health := range b.health {
		elapsed := now.Sub(health.LastSeen)
		if elapsed < 0 {
			elapsed = 0
		}
		health.ConsecutiveMisses = int(elapsed / health.ExpectedCycle)
		wasStale := health.Stale
		health.Stale = elapsed > time.Duration(float64(health.ExpectedCycle)*b.missFactor)
		if health.Stale && !wasStale && b.logger != nil {
			b.logger.Printf("source stale: source=%s misses=%d", id, health.ConsecutiveMisses)
		}
		b.health[id] = health
		if health.Stale {
			stale = append(stale, health)
		}
	}
	if len(stale) > 0 {
		b.version++
	}
	return stale
}

// Snapshot is an immutable, consistent view of all current signals and
// source health, safe to read without further locking.
type Snapshot struct {
	Version uint64                  `json:"version"`
	TakenAt time.Time               `json:"taken_at"`
	Signals map[string]Signal       `json:"signals"`
	Health  map[string]SourceHealth `json:"health"`
}

// Snapshot returns a copy-on-read view of the bus.
func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Version: b.version,
		TakenAt: b.clock.Now(),
		Signals: make(map[string]Signal, len(b.signals)),
		Health:  make(map[string]SourceHealth, len(b.health)),
	}
	for id, sig := range b.signals {
		snap.Signals[id] = sig
	}
	for id, health := range b.health {
		snap.Health[id] = health
	}
	return snap
}

// Sources returns the declared source specs in registration order.
func (b *Bus) Sources() []SourceSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	specs := make([]SourceSpec, 0, len(b.order))
	for _, id := range b.order {
		specs = append(specs, b.specs[id])
	}
	return specs
}

// MinByKind returns the lowest fresh value of the given kind across sources.
// The second return is false when no source of that kind has reported.
func (s Snapshot) MinByKind(kind Kind) (float64, bool) {
	found := false
	min := 0.0
	for id, sig := range s.Signals {
		if sig.Kind != kind {
			continue
		}
		if health, ok := s.Health[id]; ok && health.Stale {
			continue
		}
		if !found || sig.Value < min {
			min = sig.Value
			found = true
		}
	}
	return min, found
}

// MaxByKind returns the highest fresh value of the given kind across sources.
func (s Snapshot) MaxByKind(kind Kind) (float64, bool) {
	found := false
	max := 0.0
	for id, sig := range s.Signals {
		if sig.Kind != kind {
			continue
		}
		if health, ok := s.Health[id]; ok && health.Stale {
			continue
		}
		if !found || sig.Value > max {
			max = sig.Value
			found = true
		}
	}
	return max, found
}

// Asserted returns true when any fresh signal of the kind is non-zero.
func (s Snapshot) Asserted(kind Kind) bool {
	value, ok := s.MaxByKind(kind)
	return ok && value != 0
}

// StaleCritical counts stale safety-relevant sources.
func (s Snapshot) StaleCritical() int {
	count := 0
	for _, health := range s.Health {
		if health.Stale && health.SafetyRelevant {
			count++
		}
	}
	return count
}
