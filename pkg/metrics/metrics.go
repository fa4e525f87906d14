// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LifecycleOps tracks lifecycle operations by action and outcome
	LifecycleOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Total number of lifecycle operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Merges tracks merge requests by outcome (merged, replayed, failed)
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "requests_total",
			Help:      "Total number of merge requests by outcome",
		},
		[]string{"outcome"},
	)

	MergedSources = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "sources_total",
			Help:      "Total number of codes absorbed by merges",
		},
	)

	// FreezeBlocks tracks effectful operations refused by a freeze
	FreezeBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "freeze",
			Name:      "blocked_total",
			Help:      "Total number of operations blocked by a project freeze",
		},
		[]string{"operation"},
	)

	// LockWait tracks time spent acquiring the per-project lock
	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "catalog",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the project lock in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// ResolverDepth tracks canonical chain lengths
	ResolverDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "depth",
			Help:      "Number of hops followed to reach a canonical code",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 25},
		},
	)

	// DriftFindings tracks findings reported by diagnose
	DriftFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "drift",
			Name:      "findings_total",
			Help:      "Total number of drift findings by kind",
		},
		[]string{"kind"},
	)

	// RepairActions tracks repair actions by kind and mode
	RepairActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "drift",
			Name:      "repair_actions_total",
			Help:      "Total number of repair actions by kind and mode",
		},
		[]string{"kind", "mode"},
	)

	// SweepRuns tracks per-project sweep results
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sweep",
			Name:      "projects_total",
			Help:      "Total number of projects swept by result",
		},
		[]string{"result"},
	)

	// EventsPublished tracks lifecycle events sent to kafka
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of code events published by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// GraphProjections tracks graph sync writes
	GraphProjections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "projections_total",
			Help:      "Total number of graph projection writes by outcome",
		},
		[]string{"outcome"},
	)
)

// Outcome maps err to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
