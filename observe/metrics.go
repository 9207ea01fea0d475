// Package observe exposes Prometheus instrumentation for the workflow
// engine. Metrics implements workflow.Recorder so the engine stays free of
// any direct prometheus dependency.
package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal    *prometheus.CounterVec
	stepDuration  prometheus.Histogram
	modelSelected *prometheus.CounterVec
	admissions    *prometheus.CounterVec
	spendUSD      prometheus.Counter
}

// NewMetrics registers the engine collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "steps_total",
			Help:      "Step executions by outcome.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "semflow",
			Name:      "step_duration_seconds",
			Help:      "Step execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		modelSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "model_selections_total",
			Help:      "Selector decisions by model.",
		}, []string{"model"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "admission_decisions_total",
			Help:      "Budget admission decisions by outcome.",
		}, []string{"decision"}),
		spendUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "spend_usd_total",
			Help:      "Cumulative recorded spend in USD.",
		}),
	}
	m.registry.MustRegister(
		m.stepsTotal, m.stepDuration, m.modelSelected, m.admissions, m.spendUSD,
	)
	return m
}

// StepExecuted records a step outcome and its latency.
func (m *Metrics) StepExecuted(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
	m.stepDuration.Observe(duration.Seconds())
}

// ModelSelected records the primary model chosen for a step.
func (m *Metrics) ModelSelected(modelID string) {
	m.modelSelected.WithLabelValues(modelID).Inc()
}

// AdmissionDecision records a budget gate outcome.
func (m *Metrics) AdmissionDecision(allowed, warned bool) {
	decision := "allow"
	switch {
	case !allowed:
		decision = "deny"
	case warned:
		decision = "warn"
	}
	m.admissions.WithLabelValues(decision).Inc()
}

// SpendRecorded accumulates USD spend.
func (m *Metrics) SpendRecorded(usd float64) {
	if usd > 0 {
		m.spendUSD.Add(usd)
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
