package safety

import "time"

// State is the cell-wide safety state. Exactly one is active at a time.
type State string

const (
	StateNominal State = "NOMINAL"
	StateAlert   State = "ALERT"
	StateSlow    State = "SLOW"
	StateStop    State = "STOP"
	StateEStop   State = "ESTOP"
)

// Severity orders states; higher means more restrictive.
func (s State) Severity() int {
	switch s {
	case StateNominal:
		return 0
	case StateAlert:
		return 1
	case StateSlow:
		return 2
	case StateStop:
		return 3
	case StateEStop:
		return 4
	default:
		return -1
	}
}

// Valid reports whether the state is one of the five known states.
func (s State) Valid() bool {
	return s.Severity() >= 0
}

// stepDown returns the next state one severity level below s.
func stepDown(s State) State {
	switch s {
	case StateEStop:
		return StateStop
	case StateStop:
		return StateSlow
	case StateSlow:
		return StateAlert
	case StateAlert:
		return StateNominal
	default:
		return StateNominal
	}
}

// InterventionEvent records one state transition. De-escalations carry an
// empty TriggeringRuleID; watchdog escalations carry a "watchdog:<source>"
// pseudo rule id; operator actions carry "operator:<actor>".
type InterventionEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	TriggeringRuleID string    `json:"triggering_rule_id,omitempty"`
	From             State     `json:"from"`
	To               State     `json:"to"`
	ActionRequested  string    `json:"action_requested"`
}
