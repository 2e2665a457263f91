package reports

import (
	"bytes"
	"testing"
	"time"

	"cellguard/internal/safety"
)

func sampleEvents() []safety.InterventionEvent {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return []safety.InterventionEvent{
		{Timestamp: base, TriggeringRuleID: "RS-003", From: safety.StateNominal, To: safety.StateSlow, ActionRequested: "SLOW_50"},
		{Timestamp: base.Add(time.Minute), TriggeringRuleID: "RS-001", From: safety.StateSlow, To: safety.StateEStop, ActionRequested: "ESTOP"},
	}
}

func TestBuildInterventionsPDF(t *testing.T) {
	payload, err := BuildInterventionsPDF("cell-01", sampleEvents(), time.Now().UTC())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("%PDF")) {
		t.Fatalf("expected PDF magic, got %q", payload[:8])
	}
}

func TestBuildInterventionsXLSX(t *testing.T) {
	payload, err := BuildInterventionsXLSX("cell-01", sampleEvents(), time.Now().UTC())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(payload, []byte("PK")) {
		t.Fatalf("expected zip magic, got %q", payload[:4])
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	payload, err := BuildInterventionsPDF("cell-01", nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("empty history must still render a report")
	}
}
