package safety

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ErrNotSticky is returned by Reset when the machine is not latched in ESTOP.
var ErrNotSticky = errors.New("safety: reset only valid from ESTOP")

// Candidate is the arbitrated demand for one tick: the target state, the
// rule that demanded it and the action label for the event record. A
// zero-demand tick is expressed as Target=StateNominal with empty RuleID.
type Candidate struct {
	Target State
	RuleID string
	Action string
}

// MachineOption customizes the machine.
type MachineOption func(*Machine)

// WithMachineLogger sets the machine logger.
func WithMachineLogger(l *log.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// Machine holds the current safety state and enforces the transition rules:
// escalation is immediate, de-escalation steps down one level per debounce
// window, and ESTOP latches until an operator reset.
type Machine struct {
	mu       sync.Mutex
	state    State
	debounce time.Duration
	logger   *log.Logger

	// clearSince marks when demand first dropped below the current state.
	// Zero while demand holds the state up.
	clearSince time.Time
	// enteredAt marks when the current state was entered, for dwell metrics.
	enteredAt time.Time
}

// NewMachine constructs a machine starting in NOMINAL.
func NewMachine(debounce time.Duration, opts ...MachineOption) (*Machine, error) {
	if debounce <= 0 {
		return nil, errors.New("safety: non-positive debounce window")
	}
	m := &Machine{
		state:    StateNominal,
		debounce: debounce,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnteredAt returns when the current state was entered. Zero until the
// first transition or tick.
func (m *Machine) EnteredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enteredAt
}

// Apply feeds one tick's arbitrated candidate into the machine and returns
// the transition event, if any. Rules:
//   - demand above the current severity escalates immediately;
//   - demand at the current severity holds the state and resets the
//     de-escalation clock;
//   - demand below the current severity starts (or continues) the debounce
//     window, and once the window elapses the state steps down exactly one
//     level, re-arming the window for the next step;
//   - ESTOP never de-escalates here; only Reset leaves it.
func (m *Machine) Apply(c Candidate, now time.Time) (*InterventionEvent, error) {
	if !c.Target.Valid() {
		return nil, fmt.Errorf("safety: invalid candidate state %q", c.Target)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enteredAt.IsZero() {
		m.enteredAt = now
	}

	cur := m.state
	switch {
	case c.Target.Severity() > cur.Severity():
		m.clearSince = time.Time{}
		return m.transition(cur, c.Target, c.RuleID, c.Action, now), nil

	case c.Target.Severity() == cur.Severity():
		m.clearSince = time.Time{}
		return nil, nil

	default: // demand below current severity
		if cur == StateEStop {
			// Latched; ignore lower demand entirely.
			m.clearSince = time.Time{}
			return nil, nil
		}
		if m.clearSince.IsZero() {
			m.clearSince = now
			return nil, nil
		}
		if now.Sub(m.clearSince) < m.debounce {
			return nil, nil
		}
		next := stepDown(cur)
		// One level at a time, never below the standing demand.
		if next.Severity() < c.Target.Severity() {
			next = c.Target
		}
		m.clearSince = now
		return m.transition(cur, next, "", "", now), nil
	}
}

// ForceEStop drives the machine to ESTOP from outside the tick loop, used by
// the watchdog when a safety-relevant source goes silent. Idempotent: a
// machine already in ESTOP returns nil.
func (m *Machine) ForceEStop(cause string, now time.Time) *InterventionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateEStop {
		return nil
	}
	m.clearSince = time.Time{}
	return m.transition(m.state, StateEStop, "watchdog:"+cause, "ESTOP", now)
}

// Reset releases a latched ESTOP into STOP on explicit operator action.
// Recovery to lower states then proceeds through the normal debounce ladder.
func (m *Machine) Reset(actor string, now time.Time) (*InterventionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEStop {
		return nil, ErrNotSticky
	}
	m.clearSince = time.Time{}
	return m.transition(StateEStop, StateStop, "operator:"+actor, "RESET", now), nil
}

// transition mutates state and builds the event. Caller holds the lock.
func (m *Machine) transition(from, to State, ruleID, action string, now time.Time) *InterventionEvent {
	m.state = to
	m.enteredAt = now
	m.logger.Printf("safety transition: from=%s to=%s rule=%s", from, to, ruleID)
	return &InterventionEvent{
		Timestamp:        now,
		TriggeringRuleID: ruleID,
		From:             from,
		To:               to,
		ActionRequested:  action,
	}
}
