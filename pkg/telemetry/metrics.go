package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cloudmind"

var (
	// ScansTotal counts scans by terminal status.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of scans by terminal status.",
		},
		[]string{"status"},
	)

	// TasksTotal counts orchestrator tasks by stage and outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of scan tasks by stage, provider and outcome.",
		},
		[]string{"stage", "provider", "outcome"},
	)

	// ProviderCallsTotal counts guarded provider calls.
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of guarded provider API calls by outcome.",
		},
		[]string{"provider", "call", "outcome"},
	)

	// SafetyDenialsTotal counts refused non-read calls.
	SafetyDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_denials_total",
			Help:      "Total number of provider calls refused by the read-only guard.",
		},
		[]string{"provider"},
	)

	// PricingLookupsTotal counts price resolutions by source.
	PricingLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_lookups_total",
			Help:      "Total number of price lookups by resolution source.",
		},
		[]string{"provider", "source"},
	)

	// RecommendationsTotal counts emitted recommendations.
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Total number of emitted recommendations by category and scorer.",
		},
		[]string{"category", "scorer"},
	)

	// StageDurationSeconds is scan stage latency.
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Scan stage duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2.5, 10),
		},
		[]string{"stage"},
	)

	// ActiveScans is the number of non-terminal scans.
	ActiveScans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scans",
			Help:      "Number of scans not yet in a terminal state.",
		},
	)
)
