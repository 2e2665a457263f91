package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "cellguard_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	signalsIngested *prometheus.CounterVec
	signalsRejected *prometheus.CounterVec
	sourceStale     *prometheus.GaugeVec

	tickLatency prometheus.Histogram
	tickOverrun prometheus.Counter

	riskScore prometheus.Gauge

	ruleTriggered  *prometheus.CounterVec
	ruleEvalErrors *prometheus.CounterVec

	safetyState      *prometheus.GaugeVec
	stateTransitions *prometheus.CounterVec
	stateDwell       *prometheus.HistogramVec

	watchdogFailsafe *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		signalsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "signals_ingested_total",
				Help: "Total accepted sensor readings by source",
			},
			[]string{"source"},
		)
		signalsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "signals_rejected_total",
				Help: "Total rejected sensor readings by source and reason",
			},
			[]string{"source", "reason"},
		)
		sourceStale = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "source_stale",
				Help: "1 when a source is stale, 0 when fresh",
			},
			[]string{"source"},
		)

		tickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Supervision tick latency in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
		)
		tickOverrun = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tick_overruns_total",
				Help: "Total ticks exceeding the tick period",
			},
		)

		riskScore = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "risk_score",
				Help: "Latest composite risk score, 0 to 100",
			},
		)

		ruleTriggered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_triggered_total",
				Help: "Total rule firings by rule and priority",
			},
			[]string{"rule", "priority"},
		)
		ruleEvalErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_eval_errors_total",
				Help: "Total fail-safe firings from unevaluable rules",
			},
			[]string{"rule"},
		)

		safetyState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "safety_state",
				Help: "1 for the active safety state, 0 for the rest",
			},
			[]string{"state"},
		)
		stateTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_transitions_total",
				Help: "Total safety state transitions by from and to state",
			},
			[]string{"from", "to"},
		)
		stateDwell = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "state_dwell_seconds",
				Help:    "Time spent in a safety state before leaving it",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
			},
			[]string{"state"},
		)

		watchdogFailsafe = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "watchdog_failsafe_total",
				Help: "Total watchdog fail-safe escalations by source",
			},
			[]string{"source"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total intervention export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Intervention export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			signalsIngested,
			signalsRejected,
			sourceStale,
			tickLatency,
			tickOverrun,
			riskScore,
			ruleTriggered,
			ruleEvalErrors,
			safetyState,
			stateTransitions,
			stateDwell,
			watchdogFailsafe,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncSignalIngested increments the accepted-reading counter.
func IncSignalIngested(source string) {
	if source == "" {
		source = "unknown"
	}
	if signalsIngested != nil {
		signalsIngested.WithLabelValues(source).Inc()
	}
}

// IncSignalRejected increments the rejected-reading counter.
func IncSignalRejected(source, reason string) {
	if source == "" {
		source = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if signalsRejected != nil {
		signalsRejected.WithLabelValues(source, reason).Inc()
	}
}

// SetSourceStale flips the staleness gauge for a source.
func SetSourceStale(source string, stale bool) {
	if source == "" {
		return
	}
	if sourceStale != nil {
		v := 0.0
		if stale {
			v = 1.0
		}
		sourceStale.WithLabelValues(source).Set(v)
	}
}

// ObserveTick records one supervision tick.
func ObserveTick(duration, period time.Duration) {
	if tickLatency != nil {
		tickLatency.Observe(duration.Seconds())
	}
	if tickOverrun != nil && period > 0 && duration > period {
		tickOverrun.Inc()
	}
}

// SetRiskScore publishes the latest composite score.
func SetRiskScore(score float64) {
	if riskScore != nil {
		riskScore.Set(score)
	}
}

// IncRuleTriggered increments the firing counter.
func IncRuleTriggered(rule, priority string) {
	if rule == "" {
		rule = "unknown"
	}
	if ruleTriggered != nil {
		ruleTriggered.WithLabelValues(rule, priority).Inc()
	}
}

// IncRuleEvalError counts a fail-safe firing from an unevaluable rule.
func IncRuleEvalError(rule string) {
	if rule == "" {
		rule = "unknown"
	}
	if ruleEvalErrors != nil {
		ruleEvalErrors.WithLabelValues(rule).Inc()
	}
}

// SetSafetyState marks the active state; all known states are passed so the
// gauge stays consistent across transitions.
func SetSafetyState(active string, all []string) {
	if safetyState == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		safetyState.WithLabelValues(s).Set(v)
	}
}

// ObserveTransition records a state change and the dwell in the left state.
func ObserveTransition(from, to string, dwell time.Duration) {
	if stateTransitions != nil {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
	if stateDwell != nil && dwell >= 0 {
		stateDwell.WithLabelValues(from).Observe(dwell.Seconds())
	}
}

// IncWatchdogFailsafe counts a watchdog-forced escalation.
func IncWatchdogFailsafe(source string) {
	if source == "" {
		source = "unknown"
	}
	if watchdogFailsafe != nil {
		watchdogFailsafe.WithLabelValues(source).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
