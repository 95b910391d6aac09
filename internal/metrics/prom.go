// Package metrics exposes control-plane instruments to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sdhr"

var (
	healthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "score",
			Help:      "Latest health score per controller.",
		},
		[]string{"controller"},
	)
	anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "anomalies_total",
			Help:      "Anomalies detected per controller and kind.",
		},
		[]string{"controller", "kind"},
	)
	sampleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "sample_errors_total",
			Help:      "Failed metric fetches per controller.",
		},
		[]string{"controller"},
	)

	selections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "selections_total",
			Help:      "Controller selections per strategy.",
		},
		[]string{"strategy"},
	)
	strategyChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "strategy_changes_total",
			Help:      "Adaptive strategy changes by destination strategy.",
		},
		[]string{"strategy"},
	)

	switches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "switcher",
			Name:      "switches_total",
			Help:      "Switch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	switchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "switcher",
			Name:      "switch_duration_seconds",
			Help:      "Time from prepare to verify (or to failure).",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	flowInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowsync",
			Name:      "installs_total",
			Help:      "Flow rule install attempts per target controller and result.",
		},
		[]string{"controller", "result"},
	)
	flowConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowsync",
			Name:      "conflicts_total",
			Help:      "Flow ids present on several controllers with different content.",
		},
	)
	flowPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowsync",
			Name:      "passes_total",
			Help:      "Flow sync passes by kind.",
		},
		[]string{"kind"},
	)

	configSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "configsync",
			Name:      "results_total",
			Help:      "Config sync outcomes per controller.",
		},
		[]string{"controller", "status"},
	)
)

var registerMetrics sync.Once

// Register registers every instrument with reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			healthScore,
			anomalies,
			sampleErrors,
			selections,
			strategyChanges,
			switches,
			switchDuration,
			flowInstalls,
			flowConflicts,
			flowPasses,
			configSyncs,
		)
	})
}

// RecordHealthScore sets a controller's health gauge.
func RecordHealthScore(controller string, score float64) {
	healthScore.WithLabelValues(controller).Set(score)
}

// RecordAnomaly counts one anomaly of the given kind.
func RecordAnomaly(controller, kind string) {
	anomalies.WithLabelValues(controller, kind).Inc()
}

// RecordSampleError counts a failed metrics fetch.
func RecordSampleError(controller string) {
	sampleErrors.WithLabelValues(controller).Inc()
}

// ForgetController drops per-controller series after removal.
func ForgetController(controller string) {
	healthScore.DeleteLabelValues(controller)
	sampleErrors.DeleteLabelValues(controller)
	anomalies.DeletePartialMatch(prometheus.Labels{"controller": controller})
	flowInstalls.DeletePartialMatch(prometheus.Labels{"controller": controller})
	configSyncs.DeletePartialMatch(prometheus.Labels{"controller": controller})
}

// RecordSelection counts a selection made by strategy.
func RecordSelection(strategy string) {
	selections.WithLabelValues(strategy).Inc()
}

// RecordStrategyChange counts an adaptive change to strategy.
func RecordStrategyChange(strategy string) {
	strategyChanges.WithLabelValues(strategy).Inc()
}

// RecordSwitch counts a switch attempt and observes its duration.
func RecordSwitch(success bool, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	switches.WithLabelValues(outcome).Inc()
	switchDuration.Observe(seconds)
}

// RecordSwitchBusy counts a switch rejected because another was running.
func RecordSwitchBusy() {
	switches.WithLabelValues("busy").Inc()
}

// RecordFlowInstall counts one install attempt on controller.
func RecordFlowInstall(controller string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	flowInstalls.WithLabelValues(controller, result).Inc()
}

// RecordFlowConflict counts a flow id collision.
func RecordFlowConflict() {
	flowConflicts.Inc()
}

// RecordFlowPass counts a sync pass ("sync_all" or "force").
func RecordFlowPass(kind string) {
	flowPasses.WithLabelValues(kind).Inc()
}

// RecordConfigSync counts one per-controller config sync outcome.
func RecordConfigSync(controller, status string) {
	configSyncs.WithLabelValues(controller, status).Inc()
}
