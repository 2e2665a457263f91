package signals

import (
	"errors"
	"math"
	"time"
)

// Kind identifies what a signal measures.
type Kind string

const (
	KindDistance    Kind = "distance"
	KindFumesRatio  Kind = "fumes_ratio"
	KindEStopButton Kind = "estop_button"
	KindHeartbeat   Kind = "heartbeat"
	KindIntrusion   Kind = "vision_intrusion"
	KindPPEMissing  Kind = "vision_ppe_missing"
	KindRobotSpeed  Kind = "robot_speed"
)

// Valid returns true when the kind is supported.
func (k Kind) Valid() bool {
	switch k {
	case KindDistance, KindFumesRatio, KindEStopButton, KindHeartbeat,
		KindIntrusion, KindPPEMissing, KindRobotSpeed:
		return true
	default:
		return false
	}
}

// Reading is a raw driver-supplied measurement before normalization.
type Reading struct {
	SourceID  string    `json:"source_id"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// Signal is a normalized reading. Immutable once created; a newer Signal
// from the same source supersedes it.
type Signal struct {
	SourceID  string    `json:"source_id"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// Rejection reasons for ingested readings.
var (
	ErrUnknownSource    = errors.New("signals: unknown source")
	ErrKindMismatch     = errors.New("signals: reading kind does not match source")
	ErrMalformedReading = errors.New("signals: malformed reading")
	ErrStaleReading     = errors.New("signals: reading older than current signal")
)

// SourceSpec declares a sensor source the bus accepts readings from.
type SourceSpec struct {
	ID             string        `json:"id"`
	Kind           Kind          `json:"kind"`
	Unit           string        `json:"unit"`
	ExpectedCycle  time.Duration `json:"expected_cycle"`
	SafetyRelevant bool          `json:"safety_relevant"`
}

// Validate checks source spec invariants.
func (s SourceSpec) Validate() error {
	if s.ID == "" {
		return errors.New("signals: empty source id")
	}
	if !s.Kind.Valid() {
		return errors.New("signals: invalid kind for source " + s.ID)
	}
	if s.ExpectedCycle <= 0 {
		return errors.New("signals: non-positive expected cycle for source " + s.ID)
	}
	return nil
}

// SourceHealth tracks per-source liveness.
type SourceHealth struct {
	SourceID          string        `json:"source_id"`
	ExpectedCycle     time.Duration `json:"expected_cycle"`
	LastSeen          time.Time     `json:"last_seen"`
	ConsecutiveMisses int           `json:"consecutive_misses"`
	Stale             bool          `json:"stale"`
	SafetyRelevant    bool          `json:"safety_relevant"`
}

func validReading(r Reading) error {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return ErrMalformedReading
	}
	if r.Timestamp.IsZero() {
		return ErrMalformedReading
	}
	return nil
}
