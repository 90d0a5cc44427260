// Package telemetry exposes the agent's own Prometheus metrics, adapted
// from infrastructure/metrics/metrics.go: HTTP/database-shaped metrics
// are re-keyed onto cycle counts, per-stage outcomes, and circuit breaker
// transitions.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the agent registers.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	SamplesTotal   prometheus.Counter
	EntitiesTotal  prometheus.Counter
	EventsStreamed prometheus.Counter
	StreamErrors   prometheus.Counter

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	ComponentHealth *prometheus.GaugeVec
	RecoveryTotal   *prometheus.CounterVec
}

// New builds and registers the agent's metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production, prometheus.NewRegistry()
// in tests.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqpipeline_cycles_total",
			Help: "Total number of orchestrator cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqpipeline_cycle_duration_seconds",
			Help:    "Orchestrator cycle duration in seconds.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqpipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqpipeline_stage_errors_total",
			Help: "Total stage errors by stage and error kind.",
		}, []string{"stage", "kind"}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqpipeline_samples_collected_total",
			Help: "Total raw samples collected.",
		}),
		EntitiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqpipeline_entities_synthesized_total",
			Help: "Total entities synthesized.",
		}),
		EventsStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqpipeline_events_streamed_total",
			Help: "Total entity/relationship events streamed to the backend.",
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqpipeline_stream_errors_total",
			Help: "Total streaming failures.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqpipeline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"breaker"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqpipeline_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions.",
		}, []string{"breaker", "from", "to"}),
		ComponentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqpipeline_component_health",
			Help: "Component health status (1=healthy, 0=not healthy).",
		}, []string{"component"}),
		RecoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqpipeline_recovery_attempts_total",
			Help: "Total recovery attempts by component and outcome.",
		}, []string{"component", "outcome"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CyclesTotal,
			m.CycleDuration,
			m.StageDuration,
			m.StageErrors,
			m.SamplesTotal,
			m.EntitiesTotal,
			m.EventsStreamed,
			m.StreamErrors,
			m.BreakerState,
			m.BreakerTransitions,
			m.ComponentHealth,
			m.RecoveryTotal,
		)
	}
	return m
}

// RecordCycle records a completed cycle's outcome and duration.
func (m *Metrics) RecordCycle(outcome string, durationSeconds float64) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(durationSeconds)
}

// RecordStage records a stage's duration and, on failure, its error kind.
func (m *Metrics) RecordStage(stage string, durationSeconds float64, errKind string) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if errKind != "" {
		m.StageErrors.WithLabelValues(stage, errKind).Inc()
	}
}

// RecordBreakerTransition records a circuit breaker state change and
// updates its current-state gauge.
func (m *Metrics) RecordBreakerTransition(breaker, from, to string, stateValue float64) {
	m.BreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	m.BreakerState.WithLabelValues(breaker).Set(stateValue)
}

// SetComponentHealthy records a component's current healthy/unhealthy gauge.
func (m *Metrics) SetComponentHealthy(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(v)
}

// RecordRecovery records a recovery attempt's outcome.
func (m *Metrics) RecordRecovery(component string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RecoveryTotal.WithLabelValues(component, outcome).Inc()
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the process-wide global Metrics instance against the
// default Prometheus registerer.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(prometheus.DefaultRegisterer)
	}
	return global
}

// Global returns the process-wide Metrics instance, initializing it
// against the default registerer if necessary.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(prometheus.DefaultRegisterer)
	}
	return global
}
