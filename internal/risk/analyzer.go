package risk

import (
	"errors"
	"fmt"
	"time"

	"cellguard/internal/signals"
)

// Thresholds parameterize the analyzer. Distances in millimetres, fume
// levels as VLEP ratios.
type Thresholds struct {
	DistanceCriticalMM float64
	DistanceWarnMM     float64
	DistanceMonitorMM  float64
	DistanceClearMM    float64

	FumesLowVLEP      float64
	FumesAlertVLEP    float64
	FumesCriticalVLEP float64
	FumesStopVLEP     float64

	ApproachRateMMS float64
	FumesDriftDelta float64
	IntrusionDwell  time.Duration
	Window          time.Duration
}

// Validate checks threshold ordering and positivity.
func (t Thresholds) Validate() error {
	if t.DistanceCriticalMM <= 0 {
		return errors.New("risk: non-positive critical distance")
	}
	if !(t.DistanceCriticalMM < t.DistanceWarnMM && t.DistanceWarnMM < t.DistanceMonitorMM && t.DistanceMonitorMM < t.DistanceClearMM) {
		return errors.New("risk: distance thresholds not strictly increasing")
	}
	if t.FumesLowVLEP <= 0 {
		return errors.New("risk: non-positive low fumes threshold")
	}
	if !(t.FumesLowVLEP < t.FumesAlertVLEP && t.FumesAlertVLEP < t.FumesCriticalVLEP && t.FumesCriticalVLEP < t.FumesStopVLEP) {
		return errors.New("risk: fume thresholds not strictly increasing")
	}
	if t.ApproachRateMMS <= 0 {
		return errors.New("risk: non-positive approach rate threshold")
	}
	if t.FumesDriftDelta <= 0 {
		return errors.New("risk: non-positive fume drift delta")
	}
	if t.IntrusionDwell <= 0 {
		return errors.New("risk: non-positive intrusion dwell")
	}
	if t.Window <= 0 {
		return errors.New("risk: non-positive pattern window")
	}
	return nil
}

// Composite weights per factor. Collision dominates because it folds robot
// speed into the distance picture.
const (
	weightCollision = 0.35
	weightDistance  = 0.30
	weightExposure  = 0.20
	weightEquipment = 0.15

	patternBoost = 10.0
)

// Analyzer derives a composite risk assessment from a snapshot and the
// rolling sample history. Deterministic and side-effect-free for a given
// snapshot, history and instant.
type Analyzer struct {
	thresholds Thresholds
}

// NewAnalyzer constructs an analyzer.
func NewAnalyzer(thresholds Thresholds) (*Analyzer, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{thresholds: thresholds}, nil
}

// Analyze computes the assessment for one tick.
func (a *Analyzer) Analyze(snap signals.Snapshot, history *History, now time.Time) Assessment {
	t := a.thresholds

	distance, distanceOK := snap.MinByKind(signals.KindDistance)
	fumes, fumesOK := snap.MaxByKind(signals.KindFumesRatio)
	speed, speedOK := snap.MaxByKind(signals.KindRobotSpeed)

	distanceScore := a.distanceScore(distance, distanceOK)
	collisionScore := a.collisionScore(distance, distanceOK, speed, speedOK)
	exposureScore := a.exposureScore(fumes, fumesOK)
	equipmentScore := a.equipmentScore(snap)

	composite := distanceScore*weightDistance +
		collisionScore*weightCollision +
		exposureScore*weightExposure +
		equipmentScore*weightEquipment

	windowStart := now.Add(-t.Window)
	var window []Sample
	if history != nil {
		window = history.Since(windowStart)
	}
	patterns := a.detectPatterns(window)

	score := composite + patternBoost*float64(len(patterns))
	if score > 100 {
		score = 100
	}

	return Assessment{
		Score: score,
		Factors: []Factor{
			{Kind: "collision", Weight: weightCollision, Score: collisionScore},
			{Kind: "distance", Weight: weightDistance, Score: distanceScore},
			{Kind: "exposure", Weight: weightExposure, Score: exposureScore},
			{Kind: "equipment", Weight: weightEquipment, Score: equipmentScore},
		},
		Patterns:    patterns,
		WindowStart: windowStart,
		WindowEnd:   now,
	}
}

// distanceScore maps the closest measured distance onto 0..100. A missing
// measurement scores as the worst case.
func (a *Analyzer) distanceScore(distance float64, ok bool) float64 {
	t := a.thresholds
	if !ok {
		return 100
	}
	switch {
	case distance <= t.DistanceCriticalMM:
		return 100
	case distance <= t.DistanceWarnMM:
		return 75 + 25*(t.DistanceWarnMM-distance)/(t.DistanceWarnMM-t.DistanceCriticalMM)
	case distance <= t.DistanceMonitorMM:
		return 50 + 25*(t.DistanceMonitorMM-distance)/(t.DistanceMonitorMM-t.DistanceWarnMM)
	case distance <= t.DistanceClearMM:
		return 25 + 25*(t.DistanceClearMM-distance)/(t.DistanceClearMM-t.DistanceMonitorMM)
	default:
		return 0
	}
}

// collisionScore scores time-to-contact from distance and robot TCP speed.
func (a *Analyzer) collisionScore(distance float64, distanceOK bool, speed float64, speedOK bool) float64 {
	if !distanceOK {
		return 100
	}
	if !speedOK || speed <= 0 {
		return 0
	}
	ttc := distance / speed // mm over mm/s -> seconds
	switch {
	case ttc < 0.5:
		return 100
	case ttc < 1.0:
		return 80
	case ttc < 2.0:
		return 50
	case ttc < 5.0:
		return 25
	default:
		return 0
	}
}

// exposureScore maps the VLEP ratio onto 0..100.
func (a *Analyzer) exposureScore(ratio float64, ok bool) float64 {
	t := a.thresholds
	if !ok {
		return 100
	}
	switch {
	case ratio >= t.FumesStopVLEP:
		return 100
	case ratio >= t.FumesCriticalVLEP:
		return 75 + 25*(ratio-t.FumesCriticalVLEP)/(t.FumesStopVLEP-t.FumesCriticalVLEP)
	case ratio >= t.FumesAlertVLEP:
		return 50 + 25*(ratio-t.FumesAlertVLEP)/(t.FumesCriticalVLEP-t.FumesAlertVLEP)
	case ratio >= t.FumesLowVLEP:
		return 25 + 25*(ratio-t.FumesLowVLEP)/(t.FumesAlertVLEP-t.FumesLowVLEP)
	default:
		return 0
	}
}

// equipmentScore counts degraded protective equipment: missing PPE and
// stale safety-relevant sources.
func (a *Analyzer) equipmentScore(snap signals.Snapshot) float64 {
	issues := 0
	if snap.Asserted(signals.KindPPEMissing) {
		issues += 2
	}
	issues += snap.StaleCritical()
	switch {
	case issues >= 3:
		return 75
	case issues == 2:
		return 50
	case issues == 1:
		return 25
	default:
		return 0
	}
}

func (a *Analyzer) detectPatterns(window []Sample) []Pattern {
	var patterns []Pattern
	if p, ok := a.detectRapidApproach(window); ok {
		patterns = append(patterns, p)
	}
	if p, ok := a.detectFumesDrift(window); ok {
		patterns = append(patterns, p)
	}
	if p, ok := a.detectSustainedIntrusion(window); ok {
		patterns = append(patterns, p)
	}
	return patterns
}

// detectRapidApproach flags a closing rate above the configured threshold
// across the window.
func (a *Analyzer) detectRapidApproach(window []Sample) (Pattern, bool) {
	var first, last *Sample
	for i := range window {
		if !window[i].DistanceOK {
			continue
		}
		if first == nil {
			first = &window[i]
		}
		last = &window[i]
	}
	if first == nil || last == nil || first == last {
		return Pattern{}, false
	}
	span := last.At.Sub(first.At).Seconds()
	if span <= 0 {
		return Pattern{}, false
	}
	rate := (first.MinDistance - last.MinDistance) / span
	if rate <= a.thresholds.ApproachRateMMS {
		return Pattern{}, false
	}
	return Pattern{
		Type:   PatternRapidApproach,
		Detail: fmt.Sprintf("closing at %.0f mm/s", rate),
	}, true
}

// detectFumesDrift flags a rising fume trend: second half of the window
// averages more than drift-delta above the first half.
func (a *Analyzer) detectFumesDrift(window []Sample) (Pattern, bool) {
	var values []float64
	for _, s := range window {
		if s.FumesOK {
			values = append(values, s.FumesRatio)
		}
	}
	if len(values) < 4 {
		return Pattern{}, false
	}
	half := len(values) / 2
	firstAvg := mean(values[:half])
	secondAvg := mean(values[half:])
	drift := secondAvg - firstAvg
	if drift <= a.thresholds.FumesDriftDelta {
		return Pattern{}, false
	}
	return Pattern{
		Type:   PatternFumesDrift,
		Detail: fmt.Sprintf("ratio rising by %.2f over window", drift),
	}, true
}

// detectSustainedIntrusion flags an intrusion held for at least the dwell
// time with no clear sample in between.
func (a *Analyzer) detectSustainedIntrusion(window []Sample) (Pattern, bool) {
	var since time.Time
	held := false
	for _, s := range window {
		if s.Intrusion {
			if !held {
				since = s.At
				held = true
			}
		} else {
			held = false
		}
	}
	if !held {
		return Pattern{}, false
	}
	last := window[len(window)-1].At
	dwell := last.Sub(since)
	if dwell < a.thresholds.IntrusionDwell {
		return Pattern{}, false
	}
	return Pattern{
		Type:   PatternSustainedIntrusion,
		Detail: fmt.Sprintf("intrusion held for %s", dwell.Round(time.Millisecond)),
	}, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
