package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"cellguard/internal/eventing"
	"cellguard/internal/eventlog"
	"cellguard/internal/risk"
	"cellguard/internal/rules"
	"cellguard/internal/safety"
	"cellguard/internal/signals"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturingRequester struct {
	mu      sync.Mutex
	actions []rules.Action
}

func (r *capturingRequester) Request(_ context.Context, action rules.Action, _ safety.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *capturingRequester) last() (rules.Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) == 0 {
		return rules.Action{}, false
	}
	return r.actions[len(r.actions)-1], true
}

func testThresholds() risk.Thresholds {
	return risk.Thresholds{
		DistanceCriticalMM: 500,
		DistanceWarnMM:     800,
		DistanceMonitorMM:  1200,
		DistanceClearMM:    2000,
		FumesLowVLEP:       0.5,
		FumesAlertVLEP:     0.8,
		FumesCriticalVLEP:  1.0,
		FumesStopVLEP:      1.2,
		ApproachRateMMS:    500,
		FumesDriftDelta:    0.2,
		IntrusionDwell:     2 * time.Second,
		Window:             10 * time.Second,
	}
}

type harness struct {
	sup       *Supervisor
	bus       *signals.Bus
	clock     *fakeClock
	store     *eventlog.MemoryStore
	requester *capturingRequester
	published []safety.InterventionEvent
	mu        sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	specs := []signals.SourceSpec{
		{ID: "scanner-1", Kind: signals.KindDistance, Unit: "mm", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
		{ID: "gas-1", Kind: signals.KindFumesRatio, Unit: "vlep", ExpectedCycle: time.Second, SafetyRelevant: true},
		{ID: "robot-1", Kind: signals.KindRobotSpeed, Unit: "mm/s", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
		{ID: "estop-1", Kind: signals.KindEStopButton, ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
		{ID: "vision-intrusion-1", Kind: signals.KindIntrusion, ExpectedCycle: 200 * time.Millisecond, SafetyRelevant: true},
		{ID: "vision-ppe-1", Kind: signals.KindPPEMissing, ExpectedCycle: 200 * time.Millisecond, SafetyRelevant: false},
	}
	bus, err := signals.NewBus(specs, 3, signals.WithClock(clock))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	history, err := risk.NewHistory(128)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	analyzer, err := risk.NewAnalyzer(testThresholds())
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	engine, err := rules.NewEngine(rules.BuiltinRules(testThresholds()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	machine, err := safety.NewMachine(3 * time.Second)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	events := eventing.NewInMemoryBus()
	store := eventlog.NewMemoryStore(0)
	requester := &capturingRequester{}

	sup, err := New(bus, analyzer, history, engine, machine, events, store, 100*time.Millisecond,
		WithClock(clock),
		WithRequester(requester),
	)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	h := &harness{sup: sup, bus: bus, clock: clock, store: store, requester: requester}
	events.Subscribe(eventing.EventTypeOf[safety.InterventionEvent](), func(_ context.Context, event any) error {
		evt, ok := event.(safety.InterventionEvent)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		h.mu.Lock()
		h.published = append(h.published, evt)
		h.mu.Unlock()
		return nil
	})
	return h
}

func (h *harness) ingest(t *testing.T, sourceID string, kind signals.Kind, value float64) {
	t.Helper()
	err := h.bus.Ingest(signals.Reading{
		SourceID:  sourceID,
		Kind:      kind,
		Value:     value,
		Timestamp: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", sourceID, err)
	}
}

func (h *harness) quietCell(t *testing.T) {
	t.Helper()
	h.ingest(t, "scanner-1", signals.KindDistance, 2500)
	h.ingest(t, "gas-1", signals.KindFumesRatio, 0.2)
	h.ingest(t, "robot-1", signals.KindRobotSpeed, 200)
	h.ingest(t, "estop-1", signals.KindEStopButton, 0)
	h.ingest(t, "vision-intrusion-1", signals.KindIntrusion, 0)
	h.ingest(t, "vision-ppe-1", signals.KindPPEMissing, 0)
}

func (h *harness) tick() {
	h.sup.Tick(context.Background(), h.clock.Now())
}

func (h *harness) lastPublished() (safety.InterventionEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.published) == 0 {
		return safety.InterventionEvent{}, false
	}
	return h.published[len(h.published)-1], true
}

func TestCriticalDistanceTriggersEStop(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.ingest(t, "scanner-1", signals.KindDistance, 450)

	h.tick()

	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("expected ESTOP, got %s", got)
	}
	ev, ok := h.lastPublished()
	if !ok || ev.TriggeringRuleID != "RS-001" || ev.To != safety.StateEStop {
		t.Fatalf("unexpected event: %+v", ev)
	}
	stored, err := h.store.List(context.Background(), eventlog.Filter{})
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected 1 stored event, got %d (%v)", len(stored), err)
	}
	if action, ok := h.requester.last(); !ok || action.Kind != rules.ActionEStop {
		t.Fatalf("expected ESTOP request, got %+v", action)
	}
}

func TestFumesEscalateAlertThenStop(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.ingest(t, "gas-1", signals.KindFumesRatio, 0.85)

	h.tick()
	if got := h.sup.State(); got != safety.StateAlert {
		t.Fatalf("expected ALERT, got %s", got)
	}

	h.clock.advance(100 * time.Millisecond)
	h.ingest(t, "gas-1", signals.KindFumesRatio, 1.25)
	h.tick()
	if got := h.sup.State(); got != safety.StateStop {
		t.Fatalf("expected STOP, got %s", got)
	}
	ev, _ := h.lastPublished()
	if ev.TriggeringRuleID != "RS-004" {
		t.Fatalf("expected RS-004, got %+v", ev)
	}
}

func TestArbitrationPrefersHigherPriority(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.ingest(t, "scanner-1", signals.KindDistance, 450) // RS-001, P0
	h.ingest(t, "gas-1", signals.KindFumesRatio, 1.25)  // RS-004, P1

	h.tick()

	ev, ok := h.lastPublished()
	if !ok || ev.TriggeringRuleID != "RS-001" {
		t.Fatalf("P0 must win over P1, got %+v", ev)
	}
}

func TestArbitrationTieBreaksByRegistrationOrder(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.ingest(t, "vision-intrusion-1", signals.KindIntrusion, 1) // RS-006, P0
	h.ingest(t, "estop-1", signals.KindEStopButton, 1)          // RS-008, P0

	h.tick()

	ev, ok := h.lastPublished()
	if !ok || ev.TriggeringRuleID != "RS-006" {
		t.Fatalf("first-registered P0 rule must win the tie, got %+v", ev)
	}
}

func TestMissingSignalFailsSafe(t *testing.T) {
	h := newHarness(t)
	// Nothing ingested at all: distance rules cannot evaluate and fire.
	h.tick()

	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("unevaluable guards must fail safe to ESTOP, got %s", got)
	}
	ev, _ := h.lastPublished()
	if ev.TriggeringRuleID != "RS-001" {
		t.Fatalf("expected RS-001 fail-safe firing, got %+v", ev)
	}
}

func TestManualStopLatchAndResume(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)

	if err := h.sup.Stop(context.Background(), "op-7", "operator"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.tick()
	if got := h.sup.State(); got != safety.StateStop {
		t.Fatalf("expected STOP, got %s", got)
	}
	ev, _ := h.lastPublished()
	if ev.TriggeringRuleID != "operator-stop" {
		t.Fatalf("expected operator-stop firing, got %+v", ev)
	}

	// Latched: quiet ticks hold STOP across many debounce windows.
	for i := 0; i < 100; i++ {
		h.clock.advance(100 * time.Millisecond)
		h.quietCell(t)
		h.tick()
	}
	if got := h.sup.State(); got != safety.StateStop {
		t.Fatalf("latched stop must hold, got %s", got)
	}

	if err := h.sup.Resume(context.Background(), "op-7", "operator"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// The ladder now walks down one state per window.
	for i := 0; i < 100; i++ {
		h.clock.advance(100 * time.Millisecond)
		h.quietCell(t)
		h.tick()
	}
	if got := h.sup.State(); got != safety.StateNominal {
		t.Fatalf("expected NOMINAL after recovery, got %s", got)
	}
}

func TestWatchdogFailSafeAndResetDuringOutage(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.tick()
	if got := h.sup.State(); got != safety.StateNominal {
		t.Fatalf("expected NOMINAL, got %s", got)
	}

	health := signals.SourceHealth{SourceID: "scanner-1", ConsecutiveMisses: 5, Stale: true, SafetyRelevant: true}
	h.sup.ForceFailSafe(health)
	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("expected ESTOP, got %s", got)
	}
	ev, _ := h.lastPublished()
	if ev.TriggeringRuleID != "watchdog:scanner-1" {
		t.Fatalf("expected watchdog cause, got %+v", ev)
	}

	// An operator reset while the source is still silent is re-escalated by
	// the next watchdog sweep.
	if err := h.sup.ResetEStop(context.Background(), "op-7", "operator"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := h.sup.State(); got != safety.StateStop {
		t.Fatalf("expected STOP after reset, got %s", got)
	}
	h.sup.ForceFailSafe(health)
	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("expected re-escalation to ESTOP, got %s", got)
	}
}

func TestRecoveryLadderFromEStop(t *testing.T) {
	h := newHarness(t)
	h.quietCell(t)
	h.ingest(t, "estop-1", signals.KindEStopButton, 1)
	h.tick()
	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("expected ESTOP, got %s", got)
	}

	// Button released, but ESTOP stays latched.
	h.clock.advance(100 * time.Millisecond)
	h.ingest(t, "estop-1", signals.KindEStopButton, 0)
	for i := 0; i < 50; i++ {
		h.clock.advance(100 * time.Millisecond)
		h.quietCell(t)
		h.tick()
	}
	if got := h.sup.State(); got != safety.StateEStop {
		t.Fatalf("ESTOP must latch, got %s", got)
	}

	if err := h.sup.ResetEStop(context.Background(), "op-7", "operator"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	seen := map[safety.State]bool{}
	for i := 0; i < 150; i++ {
		h.clock.advance(100 * time.Millisecond)
		h.quietCell(t)
		h.tick()
		seen[h.sup.State()] = true
	}
	if got := h.sup.State(); got != safety.StateNominal {
		t.Fatalf("expected NOMINAL after ladder, got %s", got)
	}
	for _, state := range []safety.State{safety.StateSlow, safety.StateAlert} {
		if !seen[state] {
			t.Fatalf("ladder must pass through %s", state)
		}
	}
}
