// Package metrics exposes Prometheus instrumentation for the conversation
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumi_state_transitions_total",
			Help: "Conversation state transitions by outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	TurnViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumi_turn_violations_total",
			Help: "Transitions rejected for crossing turn ownership",
		},
	)

	StateTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumi_state_timeouts_total",
			Help: "States that exceeded their timeout",
		},
		[]string{"state"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumi_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "status"},
	)

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumi_sessions_started_total",
			Help: "Sessions started",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumi_sessions_ended_total",
			Help: "Sessions ended by reason",
		},
		[]string{"reason"},
	)

	Notices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumi_notices_total",
			Help: "User-facing notices by code",
		},
		[]string{"code"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lumi_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumi_active_connections",
			Help: "Open realtime connections",
		},
	)
)

// ObserveTransition counts a transition attempt.
func ObserveTransition(from, to string, valid, violation bool) {
	outcome := "ok"
	switch {
	case violation:
		outcome = "violation"
		TurnViolations.Inc()
	case !valid:
		outcome = "rejected"
	}
	StateTransitions.WithLabelValues(from, to, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}
