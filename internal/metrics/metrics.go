package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "service",
			Name:      "spawns_total",
			Help:      "Spawn attempts by result (ok, port_exhausted, binary_missing, spawn_failed).",
		}, []string{"result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Stop requests by trigger and result (stopped, noop).",
		}, []string{"trigger", "result"},
	)
	stopWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "service",
			Name:      "stop_warnings_total",
			Help:      "Best-effort shutdown steps that failed (kill_tree, kill, wait).",
		}, []string{"step"},
	)
	readinessAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "readiness",
			Name:      "attempts_total",
			Help:      "HTTP readiness checks issued.",
		},
	)
	readinessOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "readiness",
			Name:      "outcomes_total",
			Help:      "Readiness probe results (ready, timed_out).",
		}, []string{"outcome"},
	)
	readinessSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deskvisor",
			Subsystem: "readiness",
			Name:      "wait_seconds",
			Help:      "Time from spawn until the service answered.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskvisor",
			Subsystem: "lifecycle",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deskvisor",
			Subsystem: "lifecycle",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	serviceCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskvisor",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the backend process.",
		},
	)
	serviceRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskvisor",
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the backend process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, stops, stopWarnings, readinessAttempts, readinessOutcomes, readinessSeconds, stateTransitions, currentState, serviceCPU, serviceRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(result string) {
	if regOK.Load() {
		spawns.WithLabelValues(result).Inc()
	}
}

func IncStop(trigger, result string) {
	if regOK.Load() {
		stops.WithLabelValues(trigger, result).Inc()
	}
}

func IncStopWarning(step string) {
	if regOK.Load() {
		stopWarnings.WithLabelValues(step).Inc()
	}
}

func IncReadinessAttempt() {
	if regOK.Load() {
		readinessAttempts.Inc()
	}
}

func ObserveReadiness(outcome string, seconds float64) {
	if regOK.Load() {
		readinessOutcomes.WithLabelValues(outcome).Inc()
		if outcome == "ready" {
			readinessSeconds.Observe(seconds)
		}
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentState.WithLabelValues(state).Set(value)
	}
}

func SetServiceResources(cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		serviceCPU.Set(cpuPercent)
		serviceRSS.Set(float64(rssBytes))
	}
}
