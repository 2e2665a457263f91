package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"cellguard/internal/audit"
	"cellguard/internal/eventing"
	"cellguard/internal/eventlog"
	"cellguard/internal/observability/metrics"
	"cellguard/internal/risk"
	"cellguard/internal/rules"
	"cellguard/internal/safety"
	"cellguard/internal/signals"
)

// CommandRequester forwards advisory action requests to the cell controller.
// The supervisor never assumes the request was honored; it only advises.
type CommandRequester interface {
	Request(ctx context.Context, action rules.Action, state safety.State) error
}

// manualStopRuleID tags the synthetic firing a latched operator stop injects.
const manualStopRuleID = "operator-stop"

var allStates = []string{
	string(safety.StateNominal),
	string(safety.StateAlert),
	string(safety.StateSlow),
	string(safety.StateStop),
	string(safety.StateEStop),
}

// Option customizes the supervisor.
type Option func(*Supervisor)

// WithClock overrides the time source.
func WithClock(c signals.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the supervisor logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithAuditLogger records operator commands.
func WithAuditLogger(a audit.Logger) Option {
	return func(s *Supervisor) { s.audit = a }
}

// WithRequester sets the advisory command channel.
func WithRequester(r CommandRequester) Option {
	return func(s *Supervisor) { s.requester = r }
}

// Supervisor runs the fixed-cadence control loop: snapshot, assess, evaluate,
// arbitrate, apply, fan out. It also absorbs out-of-band escalations from the
// watchdog and operator commands from the API.
type Supervisor struct {
	bus      *signals.Bus
	analyzer *risk.Analyzer
	history  *risk.History
	engine   *rules.Engine
	machine  *safety.Machine
	events   eventing.EventBus
	store    eventlog.Store

	requester CommandRequester
	audit     audit.Logger
	logger    *log.Logger
	clock     signals.Clock
	tick      time.Duration

	mu         sync.RWMutex
	assessment risk.Assessment
	manualStop bool
	stopActor  string
}

// New constructs a supervisor. All collaborators except requester and audit
// are required.
func New(
	bus *signals.Bus,
	analyzer *risk.Analyzer,
	history *risk.History,
	engine *rules.Engine,
	machine *safety.Machine,
	events eventing.EventBus,
	store eventlog.Store,
	tick time.Duration,
	opts ...Option,
) (*Supervisor, error) {
	if bus == nil || analyzer == nil || history == nil || engine == nil || machine == nil {
		return nil, errors.New("supervisor: nil collaborator")
	}
	if events == nil || store == nil {
		return nil, errors.New("supervisor: nil event sink")
	}
	if tick <= 0 || tick > 100*time.Millisecond {
		return nil, errors.New("supervisor: tick must be in (0, 100ms]")
	}
	s := &Supervisor{
		bus:      bus,
		analyzer: analyzer,
		history:  history,
		engine:   engine,
		machine:  machine,
		events:   events,
		store:    store,
		tick:     tick,
		logger:   log.New(io.Discard, "", 0),
		clock:    signals.SystemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run drives the tick loop until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.logger.Printf("supervisor started: tick=%s", s.tick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("supervisor stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick executes one supervision cycle at the given instant.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	started := s.clock.Now()

	snap := s.bus.Snapshot()
	s.pushSample(snap, now)

	assessment := s.analyzer.Analyze(snap, s.history, now)
	metrics.SetRiskScore(assessment.Score)

	firings := s.engine.Evaluate(snap)
	for _, f := range firings {
		metrics.IncRuleTriggered(f.Rule.ID, f.Rule.Priority.String())
		if f.Err != nil {
			metrics.IncRuleEvalError(f.Rule.ID)
		}
	}
	if latched, actor := s.manualStopState(); latched {
		firings = append(firings, rules.Firing{Rule: rules.Rule{
			ID:       manualStopRuleID,
			Name:     "operator stop: " + actor,
			Priority: rules.P0,
			Action:   rules.Action{Kind: rules.ActionStop},
			Enabled:  true,
		}})
	}

	cand := arbitrate(firings)

	from := s.machine.State()
	enteredAt := s.machine.EnteredAt()
	ev, err := s.machine.Apply(cand, now)
	if err != nil {
		s.logger.Printf("apply failed: target=%s err=%v", cand.Target, err)
	}
	if ev != nil {
		s.dispatch(ctx, ev, from, enteredAt)
	}

	s.publishHealth(snap)
	metrics.SetSafetyState(string(s.machine.State()), allStates)

	s.mu.Lock()
	s.assessment = assessment
	s.mu.Unlock()

	metrics.ObserveTick(s.clock.Now().Sub(started), s.tick)
}

// ForceFailSafe is the watchdog hook: a silent safety-relevant source drives
// the machine to ESTOP regardless of what the tick loop sees.
func (s *Supervisor) ForceFailSafe(health signals.SourceHealth) {
	now := s.clock.Now()
	from := s.machine.State()
	enteredAt := s.machine.EnteredAt()
	metrics.IncWatchdogFailsafe(health.SourceID)
	ev := s.machine.ForceEStop(health.SourceID, now)
	if ev == nil {
		return
	}
	s.logger.Printf("watchdog fail-safe: source=%s misses=%d", health.SourceID, health.ConsecutiveMisses)
	s.dispatch(context.Background(), ev, from, enteredAt)
}

// Stop latches an operator-requested controlled stop. It holds the cell at
// STOP (or above) until Resume.
func (s *Supervisor) Stop(ctx context.Context, actor, role string) error {
	s.mu.Lock()
	s.manualStop = true
	s.stopActor = actor
	s.mu.Unlock()
	s.logger.Printf("manual stop latched: actor=%s", actor)
	return s.auditCommand(ctx, actor, role, "command.stop", nil)
}

// Resume releases a latched manual stop. De-escalation still walks the
// debounce ladder.
func (s *Supervisor) Resume(ctx context.Context, actor, role string) error {
	s.mu.Lock()
	s.manualStop = false
	s.stopActor = ""
	s.mu.Unlock()
	s.logger.Printf("manual stop released: actor=%s", actor)
	return s.auditCommand(ctx, actor, role, "command.resume", nil)
}

// ResetEStop releases a latched ESTOP into STOP on explicit operator action.
func (s *Supervisor) ResetEStop(ctx context.Context, actor, role string) error {
	now := s.clock.Now()
	from := s.machine.State()
	enteredAt := s.machine.EnteredAt()
	ev, err := s.machine.Reset(actor, now)
	if err != nil {
		return err
	}
	s.dispatch(ctx, ev, from, enteredAt)
	meta, _ := json.Marshal(map[string]string{"from": string(from), "to": string(ev.To)})
	return s.auditCommand(ctx, actor, role, "command.reset_estop", meta)
}

// State returns the current safety state.
func (s *Supervisor) State() safety.State {
	return s.machine.State()
}

// StateEnteredAt returns when the current state was entered.
func (s *Supervisor) StateEnteredAt() time.Time {
	return s.machine.EnteredAt()
}

// LastAssessment returns the most recent risk assessment.
func (s *Supervisor) LastAssessment() risk.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assessment
}

// ManualStop reports whether an operator stop is latched.
func (s *Supervisor) ManualStop() bool {
	latched, _ := s.manualStopState()
	return latched
}

func (s *Supervisor) manualStopState() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manualStop, s.stopActor
}

func (s *Supervisor) pushSample(snap signals.Snapshot, now time.Time) {
	distance, distanceOK := snap.MinByKind(signals.KindDistance)
	fumes, fumesOK := snap.MaxByKind(signals.KindFumesRatio)
	s.history.Push(risk.Sample{
		At:          now,
		MinDistance: distance,
		DistanceOK:  distanceOK,
		FumesRatio:  fumes,
		FumesOK:     fumesOK,
		Intrusion:   snap.Asserted(signals.KindIntrusion),
	})
}

// dispatch fans a transition out to persistence, subscribers, metrics and
// the advisory command channel. Sink failures are logged, never fatal: the
// state change itself has already happened.
func (s *Supervisor) dispatch(ctx context.Context, ev *safety.InterventionEvent, from safety.State, enteredAt time.Time) {
	dwell := time.Duration(0)
	if !enteredAt.IsZero() {
		dwell = ev.Timestamp.Sub(enteredAt)
	}
	metrics.ObserveTransition(string(from), string(ev.To), dwell)

	if err := s.store.Append(ctx, *ev); err != nil {
		s.logger.Printf("event append failed: to=%s err=%v", ev.To, err)
	}
	if err := s.events.Publish(ctx, *ev); err != nil {
		s.logger.Printf("event publish failed: to=%s err=%v", ev.To, err)
	}
	if s.requester != nil && ev.ActionRequested != "" {
		action := actionForState(ev.To, ev.ActionRequested)
		if err := s.requester.Request(ctx, action, ev.To); err != nil {
			s.logger.Printf("action request failed: action=%s err=%v", ev.ActionRequested, err)
		}
	}
}

func (s *Supervisor) publishHealth(snap signals.Snapshot) {
	for id, h := range snap.Health {
		metrics.SetSourceStale(id, h.Stale)
	}
}

func (s *Supervisor) auditCommand(ctx context.Context, actor, role, action string, meta json.RawMessage) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Log(ctx, audit.Entry{
		Actor:        actor,
		Role:         role,
		Action:       action,
		ResourceType: "cell",
		Metadata:     meta,
	}); err != nil {
		s.logger.Printf("audit write failed: action=%s err=%v", action, err)
		return err
	}
	return nil
}

// arbitrate reduces this tick's firings to a single candidate: highest
// priority wins, registration order breaks ties. No firing means the demand
// is NOMINAL and the debounce ladder takes over.
func arbitrate(firings []rules.Firing) safety.Candidate {
	if len(firings) == 0 {
		return safety.Candidate{Target: safety.StateNominal}
	}
	winner := firings[0]
	for _, f := range firings[1:] {
		if f.Rule.Priority < winner.Rule.Priority {
			winner = f
		}
	}
	return safety.Candidate{
		Target: targetState(winner.Rule.Action),
		RuleID: winner.Rule.ID,
		Action: winner.Rule.Action.Label(),
	}
}

func targetState(a rules.Action) safety.State {
	switch a.Kind {
	case rules.ActionEStop:
		return safety.StateEStop
	case rules.ActionStop:
		return safety.StateStop
	case rules.ActionSlow:
		return safety.StateSlow
	case rules.ActionAlert:
		return safety.StateAlert
	default:
		return safety.StateNominal
	}
}

func actionForState(state safety.State, label string) rules.Action {
	switch state {
	case safety.StateEStop:
		return rules.Action{Kind: rules.ActionEStop}
	case safety.StateStop:
		return rules.Action{Kind: rules.ActionStop}
	case safety.StateSlow:
		pct := 50
		if label == "SLOW_25" {
			pct = 25
		}
		return rules.Action{Kind: rules.ActionSlow, SpeedPct: pct}
	default:
		return rules.Action{Kind: rules.ActionAlert}
	}
}
