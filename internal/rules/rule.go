package rules

import (
	"errors"
	"fmt"

	"cellguard/internal/signals"
)

// Priority orders rules; a lower value is more urgent.
type Priority int

const (
	P0 Priority = iota // critical, E-STOP class
	P1                 // controlled stop
	P2                 // speed reduction
	P3                 // alert
)

// String returns the canonical label.
func (p Priority) String() string {
	switch p {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	default:
		return fmt.Sprintf("P%d", int(p))
	}
}

// Valid returns true for a supported priority.
func (p Priority) Valid() bool {
	return p >= P0 && p <= P3
}

// ActionKind is the intervention a rule requests.
type ActionKind string

const (
	ActionEStop ActionKind = "ESTOP"
	ActionStop  ActionKind = "STOP"
	ActionSlow  ActionKind = "SLOW"
	ActionAlert ActionKind = "ALERT"
)

// Action pairs an intervention with its parameter (speed percentage for SLOW).
type Action struct {
	Kind     ActionKind `json:"kind"`
	SpeedPct int        `json:"speed_pct,omitempty"`
}

// Label renders the action for events and logs.
func (a Action) Label() string {
	if a.Kind == ActionSlow {
		return fmt.Sprintf("SLOW_%d", a.SpeedPct)
	}
	return string(a.Kind)
}

// Validate checks the action.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionEStop, ActionStop, ActionAlert:
		return nil
	case ActionSlow:
		if a.SpeedPct <= 0 || a.SpeedPct >= 100 {
			return errors.New("rules: slow action requires speed in (0,100)")
		}
		return nil
	default:
		return errors.New("rules: unknown action kind")
	}
}

// ConditionKind selects the predicate variant.
type ConditionKind string

const (
	CondDistanceBelow   ConditionKind = "distance_below"
	CondDistanceBetween ConditionKind = "distance_between"
	CondFumesAbove      ConditionKind = "fumes_above"
	CondFumesBetween    ConditionKind = "fumes_between"
	CondIntrusion       ConditionKind = "vision_intrusion"
	CondPPEMissing      ConditionKind = "vision_ppe_missing"
	CondEStopButton     ConditionKind = "estop_button"
)

// Condition is a pure, data-only predicate over a snapshot. Ranges are
// half-open [Low, High).
type Condition struct {
	Kind ConditionKind `json:"kind"`
	Low  float64       `json:"low,omitempty"`
	High float64       `json:"high,omitempty"`
}

// Validate checks the condition.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondDistanceBelow, CondFumesAbove:
		if c.Low <= 0 {
			return errors.New("rules: threshold must be positive")
		}
		return nil
	case CondDistanceBetween, CondFumesBetween:
		if c.Low <= 0 || c.High <= c.Low {
			return errors.New("rules: invalid range")
		}
		return nil
	case CondIntrusion, CondPPEMissing, CondEStopButton:
		return nil
	default:
		return errors.New("rules: unknown condition kind")
	}
}

// Eval evaluates the condition against a snapshot. An error means the
// referenced measurement was unavailable; callers treat that as firing.
func (c Condition) Eval(snap signals.Snapshot) (bool, error) {
	switch c.Kind {
	case CondDistanceBelow:
		d, ok := snap.MinByKind(signals.KindDistance)
		if !ok {
			return false, errors.New("rules: distance unavailable")
		}
		return d < c.Low, nil
	case CondDistanceBetween:
		d, ok := snap.MinByKind(signals.KindDistance)
		if !ok {
			return false, errors.New("rules: distance unavailable")
		}
		return d >= c.Low && d < c.High, nil
	case CondFumesAbove:
		r, ok := snap.MaxByKind(signals.KindFumesRatio)
		if !ok {
			return false, errors.New("rules: fumes ratio unavailable")
		}
		return r > c.Low, nil
	case CondFumesBetween:
		r, ok := snap.MaxByKind(signals.KindFumesRatio)
		if !ok {
			return false, errors.New("rules: fumes ratio unavailable")
		}
		return r >= c.Low && r < c.High, nil
	case CondIntrusion:
		return snap.Asserted(signals.KindIntrusion), nil
	case CondPPEMissing:
		return snap.Asserted(signals.KindPPEMissing), nil
	case CondEStopButton:
		return snap.Asserted(signals.KindEStopButton), nil
	default:
		return false, errors.New("rules: unknown condition kind")
	}
}

// Rule is a static intervention rule. Only Enabled mutates at runtime, and
// only through an audited operator command.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Priority  Priority  `json:"priority"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Enabled   bool      `json:"enabled"`
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rules: empty rule id")
	}
	if r.Name == "" {
		return errors.New("rules: empty rule name for " + r.ID)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("rules: invalid priority for %s", r.ID)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rules: %s: %w", r.ID, err)
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("rules: %s: %w", r.ID, err)
	}
	return nil
}
