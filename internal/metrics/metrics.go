package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the self-update pipeline:
// - update sessions and step latency
// - version checks and registry requests
// - deferred cleanup of backup containers

var (
	// Update Session Metrics
	UpdateSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_update_sessions_total",
			Help: "Total number of update sessions by outcome",
		},
		[]string{"outcome"}, // current, updated, rolled_back, rollback_failed, failed, rejected
	)

	UpdateStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lighthouse_update_step_duration_seconds",
			Help:    "Duration of update pipeline steps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	// Version Discovery Metrics
	VersionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_version_checks_total",
			Help: "Total number of version checks by result",
		},
		[]string{"result"}, // update_available, current, error
	)

	RegistryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_registry_requests_total",
			Help: "Total number of registry tag listing requests by status",
		},
		[]string{"status"}, // HTTP status code or transport error cause
	)

	// Cleanup Metrics
	Cleanups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_cleanup_total",
			Help: "Total number of backup container cleanups by result",
		},
		[]string{"result"}, // removed, failed, cancelled
	)

	CleanupsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighthouse_cleanup_pending",
			Help: "Current number of scheduled backup container cleanups",
		},
	)
)
