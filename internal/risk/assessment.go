package risk

import "time"

// Factor is one weighted contribution to the composite score, ordered by
// weight in the assessment.
type Factor struct {
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Pattern is a multi-sample condition detected over the rolling window.
type Pattern struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

const (
	PatternRapidApproach      = "rapid_approach"
	PatternFumesDrift         = "fumes_drift_up"
	PatternSustainedIntrusion = "sustained_intrusion"
)

// Assessment is the derived risk picture for one analysis tick. Ephemeral:
// recomputed every cycle and owned by the cycle that produced it.
type Assessment struct {
	Score       float64   `json:"score"`
	Factors     []Factor  `json:"factors"`
	Patterns    []Pattern `json:"patterns"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}
