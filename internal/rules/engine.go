package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"cellguard/internal/audit"
	"cellguard/internal/signals"
)

// ErrUnknownRule is returned when toggling a rule id the engine does not know.
var ErrUnknownRule = errors.New("rules: unknown rule")

// Firing is one rule that demands an intervention this tick. Err is set when
// the rule could not be evaluated; such rules fire anyway.
type Firing struct {
	Rule Rule
	Err  error
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithAuditLogger records enable/disable toggles.
func WithAuditLogger(a audit.Logger) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Engine evaluates the full rule set against each snapshot. The set is fixed
// after construction; only the enabled flag mutates, under audit.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	index  map[string]int
	audit  audit.Logger
	logger *log.Logger
}

// NewEngine validates and loads the rule set. Registration order is
// preserved and later used for priority tie-breaks.
func NewEngine(set []Rule, opts ...EngineOption) (*Engine, error) {
	if len(set) == 0 {
		return nil, errors.New("rules: empty rule set")
	}
	index := make(map[string]int, len(set))
	for i, r := range set {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[r.ID]; dup {
			return nil, fmt.Errorf("rules: duplicate rule id %s", r.ID)
		}
		index[r.ID] = i
	}
	e := &Engine{
		rules:  append([]Rule(nil), set...),
		index:  index,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every enabled rule against the snapshot and returns the
// firings in registration order. A rule whose condition cannot be evaluated
// fires with Err set: an unreadable guard is treated as a tripped guard.
func (e *Engine) Evaluate(snap signals.Snapshot) []Firing {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var firings []Firing
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		hit, err := r.Condition.Eval(snap)
		if err != nil {
			e.logger.Printf("rule eval failed, firing fail-safe: rule=%s err=%v", r.ID, err)
			firings = append(firings, Firing{Rule: r, Err: err})
			continue
		}
		if hit {
			firings = append(firings, Firing{Rule: r})
		}
	}
	return firings
}

// SetEnabled toggles a rule and writes an audit entry. The toggle is applied
// even if the audit write fails; the failure is logged and returned.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool, actor, role string) error {
	e.mu.Lock()
	i, ok := e.index[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownRule
	}
	prev := e.rules[i].Enabled
	e.rules[i].Enabled = enabled
	e.mu.Unlock()

	if prev != enabled {
		e.logger.Printf("rule toggled: rule=%s enabled=%t actor=%s", id, enabled, actor)
	}
	if e.audit == nil {
		return nil
	}
	meta, _ := json.Marshal(map[string]any{"enabled": enabled, "previous": prev})
	action := "rule.disable"
	if enabled {
		action = "rule.enable"
	}
	if err := e.audit.Log(ctx, audit.Entry{
		Actor:        actor,
		Role:         role,
		Action:       action,
		ResourceType: "rule",
		ResourceID:   id,
		Metadata:     meta,
	}); err != nil {
		e.logger.Printf("audit write failed: rule=%s err=%v", id, err)
		return fmt.Errorf("rules: audit toggle of %s: %w", id, err)
	}
	return nil
}

// Rules returns a copy of the rule set in registration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Rule returns one rule by id.
func (e *Engine) Rule(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i, ok := e.index[id]
	if !ok {
		return Rule{}, false
	}
	return e.rules[i], true
}
