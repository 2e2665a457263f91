package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"cellguard/internal/audit"
	"cellguard/internal/risk"
	"cellguard/internal/signals"
)

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

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(BuiltinRules(testThresholds()), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func snapshotWith(values map[signals.Kind]float64) signals.Snapshot {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	snap := signals.Snapshot{
		TakenAt: at,
		Signals: make(map[string]signals.Signal),
		Health:  make(map[string]signals.SourceHealth),
	}
	for kind, value := range values {
		id := string(kind) + "-src"
		snap.Signals[id] = signals.Signal{SourceID: id, Kind: kind, Value: value, Timestamp: at, Sequence: 1}
		snap.Health[id] = signals.SourceHealth{SourceID: id, LastSeen: at, SafetyRelevant: true}
	}
	return snap
}

func firedIDs(firings []Firing) []string {
	ids := make([]string, 0, len(firings))
	for _, f := range firings {
		ids = append(ids, f.Rule.ID)
	}
	return ids
}

func TestBuiltinRulesFire(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name   string
		values map[signals.Kind]float64
		want   []string
	}{
		{
			name: "critical distance",
			values: map[signals.Kind]float64{
				signals.KindDistance:   450,
				signals.KindFumesRatio: 0.2,
			},
			want: []string{"RS-001"},
		},
		{
			name: "close band slows to 25",
			values: map[signals.Kind]float64{
				signals.KindDistance:   600,
				signals.KindFumesRatio: 0.2,
			},
			want: []string{"RS-002"},
		},
		{
			name: "approach band slows to 50",
			values: map[signals.Kind]float64{
				signals.KindDistance:   1000,
				signals.KindFumesRatio: 0.2,
			},
			want: []string{"RS-003"},
		},
		{
			name: "fume stop",
			values: map[signals.Kind]float64{
				signals.KindDistance:   2500,
				signals.KindFumesRatio: 1.25,
			},
			want: []string{"RS-004"},
		},
		{
			name: "fume alert",
			values: map[signals.Kind]float64{
				signals.KindDistance:   2500,
				signals.KindFumesRatio: 0.85,
			},
			want: []string{"RS-005"},
		},
		{
			name: "intrusion",
			values: map[signals.Kind]float64{
				signals.KindDistance:   2500,
				signals.KindFumesRatio: 0.2,
				signals.KindIntrusion:  1,
			},
			want: []string{"RS-006"},
		},
		{
			name: "missing ppe",
			values: map[signals.Kind]float64{
				signals.KindDistance:   2500,
				signals.KindFumesRatio: 0.2,
				signals.KindPPEMissing: 1,
			},
			want: []string{"RS-007"},
		},
		{
			name: "estop button",
			values: map[signals.Kind]float64{
				signals.KindDistance:    2500,
				signals.KindFumesRatio:  0.2,
				signals.KindEStopButton: 1,
			},
			want: []string{"RS-008"},
		},
	}

	for _, tc := range cases {
		got := firedIDs(engine.Evaluate(snapshotWith(tc.values)))
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
			}
		}
	}
}

func TestEvaluateMissingSignalFiresFailSafe(t *testing.T) {
	engine := newTestEngine(t)

	// No distance and no fume sources at all: every distance and fume rule
	// fires with an error.
	firings := engine.Evaluate(snapshotWith(nil))
	byID := make(map[string]Firing, len(firings))
	for _, f := range firings {
		byID[f.Rule.ID] = f
	}
	for _, id := range []string{"RS-001", "RS-002", "RS-003", "RS-004", "RS-005"} {
		f, ok := byID[id]
		if !ok {
			t.Fatalf("expected fail-safe firing for %s, got %v", id, firedIDs(firings))
		}
		if f.Err == nil {
			t.Fatalf("fail-safe firing for %s must carry the evaluation error", id)
		}
	}
	if _, ok := byID["RS-006"]; ok {
		t.Fatalf("intrusion flag absent means not asserted, not an error")
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	recorder := audit.NewMemoryLogger(10)
	engine := newTestEngine(t, WithAuditLogger(recorder))

	if err := engine.SetEnabled(context.Background(), "RS-005", false, "op-7", "operator"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	snap := snapshotWith(map[signals.Kind]float64{
		signals.KindDistance:   2500,
		signals.KindFumesRatio: 0.85,
	})
	if got := firedIDs(engine.Evaluate(snap)); len(got) != 0 {
		t.Fatalf("disabled rule must not fire, got %v", got)
	}

	entries := recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != "rule.disable" || entry.ResourceID != "RS-005" || entry.Actor != "op-7" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestSetEnabledUnknownRule(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.SetEnabled(context.Background(), "RS-999", false, "op-7", "operator")
	if !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("expected ErrUnknownRule, got %v", err)
	}
}

func TestRegistrationOrderPreserved(t *testing.T) {
	engine := newTestEngine(t)
	set := engine.Rules()
	if set[1].ID != "RS-002" || set[2].ID != "RS-003" {
		t.Fatalf("RS-002 must precede RS-003 for the priority tie-break, got %v", firedIDsFromRules(set))
	}
}

func firedIDsFromRules(set []Rule) []string {
	ids := make([]string, 0, len(set))
	for _, r := range set {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRuleValidation(t *testing.T) {
	if _, err := NewEngine([]Rule{}); err == nil {
		t.Fatalf("empty set must be rejected")
	}
	dup := BuiltinRules(testThresholds())
	dup = append(dup, dup[0])
	if _, err := NewEngine(dup); err == nil {
		t.Fatalf("duplicate rule id must be rejected")
	}
	bad := Rule{ID: "X-1", Name: "bad slow", Priority: P2,
		Condition: Condition{Kind: CondIntrusion},
		Action:    Action{Kind: ActionSlow, SpeedPct: 0},
		Enabled:   true,
	}
	if err := bad.Validate(); err == nil {
		t.Fatalf("slow action without speed must be rejected")
	}
}
