package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cellguard/internal/eventing"
	"cellguard/internal/eventlog"
	"cellguard/internal/risk"
	"cellguard/internal/rules"
	"cellguard/internal/safety"
	"cellguard/internal/signals"
	"cellguard/internal/supervisor"
)

type fixture struct {
	sup    *supervisor.Supervisor
	bus    *signals.Bus
	engine *rules.Engine
	store  *eventlog.MemoryStore
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	specs := []signals.SourceSpec{
		{ID: "scanner-1", Kind: signals.KindDistance, Unit: "mm", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
		{ID: "gas-1", Kind: signals.KindFumesRatio, Unit: "vlep", ExpectedCycle: time.Second, SafetyRelevant: true},
	}
	bus, err := signals.NewBus(specs, 3)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	history, err := risk.NewHistory(16)
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
	store := eventlog.NewMemoryStore(0)
	sup, err := supervisor.New(bus, analyzer, history, engine, machine, eventing.NewInMemoryBus(), store, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	return &fixture{sup: sup, bus: bus, engine: engine, store: store}
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t)
	handler, err := NewStatusHandler(f.sup, f.bus)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body StatusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != safety.StateNominal {
		t.Fatalf("expected NOMINAL, got %s", body.State)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestRulesHandlerListAndToggle(t *testing.T) {
	f := newFixture(t)
	handler, err := NewRulesHandler(f.engine)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var set []rules.Rule
	if err := json.Unmarshal(resp.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set) != 8 {
		t.Fatalf("expected 8 builtin rules, got %d", len(set))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/RS-005/disable", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	rule, ok := f.engine.Rule("RS-005")
	if !ok || rule.Enabled {
		t.Fatalf("expected RS-005 disabled, got %+v", rule)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/RS-999/enable", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown rule, got %d", resp.Code)
	}
}

func TestCommandsHandler(t *testing.T) {
	f := newFixture(t)
	handler, err := NewCommandsHandler(f.sup)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp
	}

	if resp := post(`{"command":"warp"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", resp.Code)
	}
	if resp := post(`not json`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", resp.Code)
	}
	if resp := post(`{"command":"reset-estop"}`); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 outside ESTOP, got %d", resp.Code)
	}

	if resp := post(`{"command":"stop"}`); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !f.sup.ManualStop() {
		t.Fatalf("expected latched manual stop")
	}
	if resp := post(`{"command":"resume"}`); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if f.sup.ManualStop() {
		t.Fatalf("expected released manual stop")
	}
}

func TestInterventionsHandler(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_ = f.store.Append(context.Background(), safety.InterventionEvent{
		Timestamp: base, TriggeringRuleID: "RS-001",
		From: safety.StateNominal, To: safety.StateEStop, ActionRequested: "ESTOP",
	})
	handler, err := NewInterventionsHandler(f.store)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interventions?state=ESTOP", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var events []safety.InterventionEvent
	if err := json.Unmarshal(resp.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].TriggeringRuleID != "RS-001" {
		t.Fatalf("unexpected events: %v", events)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/interventions?state=BOGUS", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad state, got %d", resp.Code)
	}
}

func TestStreamHandlerRejectsPost(t *testing.T) {
	handler := NewStreamHandler(NewSSEBroker())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/interventions/stream", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
