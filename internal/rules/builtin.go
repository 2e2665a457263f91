package rules

import "cellguard/internal/risk"

// BuiltinRules returns the standing rule set for a work cell, parameterized
// by the same thresholds the risk analyzer uses. Registration order breaks
// priority ties, so RS-002 (closer band, deeper slow-down) precedes RS-003.
func BuiltinRules(t risk.Thresholds) []Rule {
	return []Rule{
		{
			ID:        "RS-001",
			Name:      "critical proximity",
			Priority:  P0,
			Condition: Condition{Kind: CondDistanceBelow, Low: t.DistanceCriticalMM},
			Action:    Action{Kind: ActionEStop},
			Enabled:   true,
		},
		{
			ID:        "RS-002",
			Name:      "close proximity",
			Priority:  P2,
			Condition: Condition{Kind: CondDistanceBetween, Low: t.DistanceCriticalMM, High: t.DistanceWarnMM},
			Action:    Action{Kind: ActionSlow, SpeedPct: 25},
			Enabled:   true,
		},
		{
			ID:        "RS-003",
			Name:      "approach proximity",
			Priority:  P2,
			Condition: Condition{Kind: CondDistanceBetween, Low: t.DistanceWarnMM, High: t.DistanceMonitorMM},
			Action:    Action{Kind: ActionSlow, SpeedPct: 50},
			Enabled:   true,
		},
		{
			ID:        "RS-004",
			Name:      "fume stop level",
			Priority:  P1,
			Condition: Condition{Kind: CondFumesAbove, Low: t.FumesStopVLEP},
			Action:    Action{Kind: ActionStop},
			Enabled:   true,
		},
		{
			ID:        "RS-005",
			Name:      "fume alert level",
			Priority:  P3,
			Condition: Condition{Kind: CondFumesBetween, Low: t.FumesAlertVLEP, High: t.FumesStopVLEP},
			Action:    Action{Kind: ActionAlert},
			Enabled:   true,
		},
		{
			ID:        "RS-006",
			Name:      "zone intrusion",
			Priority:  P0,
			Condition: Condition{Kind: CondIntrusion},
			Action:    Action{Kind: ActionEStop},
			Enabled:   true,
		},
		{
			ID:        "RS-007",
			Name:      "missing protective equipment",
			Priority:  P3,
			Condition: Condition{Kind: CondPPEMissing},
			Action:    Action{Kind: ActionAlert},
			Enabled:   true,
		},
		{
			ID:        "RS-008",
			Name:      "emergency stop button",
			Priority:  P0,
			Condition: Condition{Kind: CondEStopButton},
			Action:    Action{Kind: ActionEStop},
			Enabled:   true,
		},
	}
}
