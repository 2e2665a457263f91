package eventlog

import (
	"context"
	"testing"
	"time"

	"cellguard/internal/safety"
)

func seedEvents(t *testing.T, store *MemoryStore) time.Time {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []safety.InterventionEvent{
		{Timestamp: base, TriggeringRuleID: "RS-003", From: safety.StateNominal, To: safety.StateSlow, ActionRequested: "SLOW_50"},
		{Timestamp: base.Add(time.Minute), TriggeringRuleID: "RS-001", From: safety.StateSlow, To: safety.StateEStop, ActionRequested: "ESTOP"},
		{Timestamp: base.Add(2 * time.Minute), TriggeringRuleID: "operator:op-7", From: safety.StateEStop, To: safety.StateStop, ActionRequested: "RESET"},
	}
	for _, e := range events {
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return base
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore(0)
	seedEvents(t, store)

	events, err := store.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].To != safety.StateStop || events[2].To != safety.StateSlow {
		t.Fatalf("expected newest first, got %v", events)
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore(0)
	base := seedEvents(t, store)

	byState, err := store.List(context.Background(), Filter{State: safety.StateEStop})
	if err != nil || len(byState) != 1 || byState[0].TriggeringRuleID != "RS-001" {
		t.Fatalf("state filter failed: %v %v", byState, err)
	}

	byRule, err := store.List(context.Background(), Filter{RuleID: "RS-003"})
	if err != nil || len(byRule) != 1 {
		t.Fatalf("rule filter failed: %v %v", byRule, err)
	}

	since, err := store.List(context.Background(), Filter{Since: base.Add(30 * time.Second)})
	if err != nil || len(since) != 2 {
		t.Fatalf("since filter failed: %v %v", since, err)
	}

	limited, err := store.List(context.Background(), Filter{Limit: 1})
	if err != nil || len(limited) != 1 || limited[0].To != safety.StateStop {
		t.Fatalf("limit failed: %v %v", limited, err)
	}
}

func TestMemoryStoreBound(t *testing.T) {
	store := NewMemoryStore(2)
	seedEvents(t, store)

	events, err := store.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected bound of 2, got %d", len(events))
	}
	if events[1].To != safety.StateEStop {
		t.Fatalf("oldest event should have been evicted, got %v", events)
	}
}
