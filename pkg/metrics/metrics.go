// Package metrics exposes Prometheus instrumentation for the import
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager holds the pipeline's metric instruments.
type Manager struct {
	ScoresImported  *prometheus.CounterVec
	ScoresDuplicate *prometheus.CounterVec
	ScoresOrphaned  *prometheus.CounterVec
	ScoresFailed    *prometheus.CounterVec

	ImportDuration *prometheus.HistogramVec
	PhaseDuration  *prometheus.HistogramVec

	LockConflicts prometheus.Counter

	OrphansReprocessed *prometheus.CounterVec
	ChartsPromoted     prometheus.Counter

	GoalsAchieved      prometheus.Counter
	MilestonesAchieved prometheus.Counter
}

// New registers the pipeline metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)
	return &Manager{
		ScoresImported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name: "scores_imported_total",
			Help: "Scores durably inserted, by game mode.",
		}, []string{"mode"}),
		ScoresDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name: "scores_duplicate_total",
			Help: "Scores skipped as already known, by game mode.",
		}, []string{"mode"}),
		ScoresOrphaned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name: "scores_orphaned_total",
			Help: "Scores parked in the orphan store, by import type.",
		}, []string{"import_type"}),
		ScoresFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name: "scores_failed_total",
			Help: "Per-record conversion failures, by failure kind.",
		}, []string{"kind"}),
		ImportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name:    "batch_duration_seconds",
			Help:    "End-to-end import batch duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"import_type"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name:    "phase_duration_seconds",
			Help:    "Per-phase import pipeline duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		LockConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "import",
			Name: "lock_conflicts_total",
			Help: "Imports rejected because the user already had one running.",
		}),
		OrphansReprocessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "orphans",
			Name: "reprocessed_total",
			Help: "Orphan reprocess attempts, by outcome.",
		}, []string{"outcome"}),
		ChartsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "orphans",
			Name: "charts_promoted_total",
			Help: "Unverified charts promoted into the catalog.",
		}),
		GoalsAchieved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "targets",
			Name: "goals_achieved_total",
			Help: "Goal subscriptions newly achieved by imports.",
		}),
		MilestonesAchieved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kyoku", Subsystem: "targets",
			Name: "milestones_achieved_total",
			Help: "Milestone subscriptions newly achieved by imports.",
		}),
	}
}
