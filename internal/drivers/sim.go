// Package drivers feeds the signal bus. The simulated drivers stand in for
// the PLC, scanner, gas and vision adapters during development and demos.
package drivers

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"time"

	"cellguard/internal/observability/metrics"
	"cellguard/internal/signals"
)

// Ingestor accepts raw readings; the signal bus implements it.
type Ingestor interface {
	Ingest(r signals.Reading) error
}

// Scenario shapes the simulated cell. Values drift around the baselines
// with a little noise so patterns occasionally trip.
type Scenario struct {
	BaseDistanceMM float64
	BaseFumesVLEP  float64
	BaseSpeedMMS   float64
}

// DefaultScenario is a quiet cell: operator well clear, fumes low.
func DefaultScenario() Scenario {
	return Scenario{
		BaseDistanceMM: 2500,
		BaseFumesVLEP:  0.3,
		BaseSpeedMMS:   400,
	}
}

// Simulator runs one goroutine per simulated source, each at its source's
// native cadence.
type Simulator struct {
	ingestor Ingestor
	sources  []signals.SourceSpec
	scenario Scenario
	logger   *log.Logger
	clock    signals.Clock
	rng      *rand.Rand
}

// SimOption customizes the simulator.
type SimOption func(*Simulator)

// WithSimLogger sets the simulator logger.
func WithSimLogger(l *log.Logger) SimOption {
	return func(s *Simulator) { s.logger = l }
}

// WithSimClock overrides the time source.
func WithSimClock(c signals.Clock) SimOption {
	return func(s *Simulator) { s.clock = c }
}

// NewSimulator constructs a simulator over the declared sources.
func NewSimulator(ingestor Ingestor, sources []signals.SourceSpec, scenario Scenario, opts ...SimOption) (*Simulator, error) {
	if ingestor == nil {
		return nil, errors.New("drivers: nil ingestor")
	}
	if len(sources) == 0 {
		return nil, errors.New("drivers: no sources")
	}
	s := &Simulator{
		ingestor: ingestor,
		sources:  append([]signals.SourceSpec(nil), sources...),
		scenario: scenario,
		logger:   log.New(io.Discard, "", 0),
		clock:    signals.SystemClock(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts one producer per source and blocks until the context ends.
func (s *Simulator) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, spec := range s.sources {
		go func(spec signals.SourceSpec) {
			s.produce(ctx, spec)
			done <- struct{}{}
		}(spec)
	}
	for range s.sources {
		<-done
	}
}

func (s *Simulator) produce(ctx context.Context, spec signals.SourceSpec) {
	ticker := time.NewTicker(spec.ExpectedCycle)
	defer ticker.Stop()
	s.logger.Printf("simulated source started: source=%s cycle=%s", spec.ID, spec.ExpectedCycle)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading := signals.Reading{
				SourceID:  spec.ID,
				Kind:      spec.Kind,
				Value:     s.value(spec.Kind),
				Unit:      spec.Unit,
				Timestamp: s.clock.Now(),
			}
			if err := s.ingestor.Ingest(reading); err != nil {
				metrics.IncSignalRejected(spec.ID, rejectReason(err))
				s.logger.Printf("reading rejected: source=%s err=%v", spec.ID, err)
				continue
			}
			metrics.IncSignalIngested(spec.ID)
		}
	}
}

func (s *Simulator) value(kind signals.Kind) float64 {
	switch kind {
	case signals.KindDistance:
		return jitter(s.rng, s.scenario.BaseDistanceMM, 200)
	case signals.KindFumesRatio:
		v := jitter(s.rng, s.scenario.BaseFumesVLEP, 0.05)
		if v < 0.01 {
			v = 0.01
		}
		return v
	case signals.KindRobotSpeed:
		return jitter(s.rng, s.scenario.BaseSpeedMMS, 50)
	case signals.KindHeartbeat:
		return 1
	case signals.KindEStopButton, signals.KindIntrusion, signals.KindPPEMissing:
		return 0
	default:
		return 0
	}
}

func jitter(rng *rand.Rand, base, spread float64) float64 {
	v := base + (rng.Float64()*2-1)*spread
	if v < 0 {
		return 0
	}
	return v
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, signals.ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, signals.ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, signals.ErrMalformedReading):
		return "malformed"
	case errors.Is(err, signals.ErrStaleReading):
		return "out_of_order"
	default:
		return "unknown"
	}
}
