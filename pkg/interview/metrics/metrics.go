// Package metrics exposes Prometheus instrumentation for the interview
// session core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the interview core.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	ReadinessLatency *prometheus.HistogramVec
	BridgeAttempts   prometheus.Histogram
	Interventions    *prometheus.CounterVec
	TranscriptTotal  *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interviewkit"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live interview sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total interview sessions by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Interview session duration in seconds",
			Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 3600},
		},
		[]string{"role"},
	)

	readinessLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_latency_seconds",
			Help:      "Time from session start to ready-rendered",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 12},
		},
		[]string{"role", "fallback"},
	)

	bridgeAttempts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_attempts",
			Help:      "Attempts taken to republish the agent voice",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	interventions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "HR intervention transitions",
		},
		[]string{"transition"},
	)

	transcriptTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries recorded by role",
		},
		[]string{"role"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by taxonomy type",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		readinessLatency,
		bridgeAttempts,
		interventions,
		transcriptTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		ReadinessLatency: readinessLatency,
		BridgeAttempts:   bridgeAttempts,
		Interventions:    interventions,
		TranscriptTotal:  transcriptTotal,
		ErrorsTotal:      errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a session becoming live.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending with its outcome.
func (m *Metrics) RecordSessionEnd(role, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(role, outcome).Inc()
	m.SessionDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordReadiness records the time to ready-rendered.
func (m *Metrics) RecordReadiness(role string, forced bool, latency time.Duration) {
	if m == nil {
		return
	}
	fallback := "false"
	if forced {
		fallback = "true"
	}
	m.ReadinessLatency.WithLabelValues(role, fallback).Observe(latency.Seconds())
}

// RecordBridgeAttempts records how many attempts the voice bridge took.
func (m *Metrics) RecordBridgeAttempts(attempts int) {
	if m == nil {
		return
	}
	m.BridgeAttempts.Observe(float64(attempts))
}

// RecordIntervention records one HR intervention transition.
func (m *Metrics) RecordIntervention(transition string) {
	if m == nil {
		return
	}
	m.Interventions.WithLabelValues(transition).Inc()
}

// RecordTranscript records a transcript entry.
func (m *Metrics) RecordTranscript(role string) {
	if m == nil {
		return
	}
	m.TranscriptTotal.WithLabelValues(role).Inc()
}

// RecordError records an error by taxonomy type.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
