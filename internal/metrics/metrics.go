// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registration protocol

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylink_registrations_total",
			Help: "Total number of registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	RegisteredNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citylink_registered_nodes",
			Help: "Number of end nodes currently registered",
		},
	)

	RegistrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citylink_registration_duration_seconds",
			Help:    "Registration pipeline latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Adaptation procedure

	AdaptationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylink_adaptation_runs_total",
			Help: "Total number of adaptation runs by outcome",
		},
		[]string{"outcome"},
	)

	VFSActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylink_vfs_actions_total",
			Help: "Total number of VFS actions issued by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Node controllers

	CoreStatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylink_core_status_transitions_total",
			Help: "Total number of device-reported core status transitions",
		},
		[]string{"status"},
	)
)

// Outcome label values shared by the counters above.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeAborted   = "aborted"
)
