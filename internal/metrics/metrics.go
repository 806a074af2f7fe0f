// Package metrics exposes Prometheus instruments for migration runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	timeSince           = time.Since // for test purposes only
	executionsTotal     *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	rehearsalDiffsTotal *prometheus.CounterVec
	lockWaitDuration    *prometheus.HistogramVec
	queuedJobsTotal     *prometheus.CounterVec
	buckets             = []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60, 120, 300, 600} // 50ms to 10m
)

const (
	namespace = "psm"
	subsystem = "migrations"

	executionsTotalName = "executions_total"
	executionsTotalDesc = "A counter for migration executions by direction and outcome."

	executionDurationName = "execution_duration_seconds"
	executionDurationDesc = "A histogram of migration execution latencies."

	rehearsalDiffsName = "rehearsal_differences_total"
	rehearsalDiffsDesc = "A counter for differences found by rehearsals."

	lockWaitName = "lock_wait_seconds"
	lockWaitDesc = "A histogram of time spent waiting for the migration lock."

	queuedJobsName = "queued_jobs_total"
	queuedJobsDesc = "A counter for jobs published to the migration queue."

	migrationIDLabel = "migration_id"
	directionLabel   = "direction"
	outcomeLabel     = "outcome"
	connectionLabel  = "connection"
	queueLabel       = "queue"
)

// Outcomes recorded by ObserveExecution.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeDryRun  = "dry_run"
)

func init() {
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      executionsTotalName,
			Help:      executionsTotalDesc,
		},
		[]string{migrationIDLabel, directionLabel, outcomeLabel},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      executionDurationName,
			Help:      executionDurationDesc,
			Buckets:   buckets,
		},
		[]string{migrationIDLabel, directionLabel},
	)

	rehearsalDiffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      rehearsalDiffsName,
			Help:      rehearsalDiffsDesc,
		},
		[]string{migrationIDLabel},
	)

	lockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      lockWaitName,
			Help:      lockWaitDesc,
			Buckets:   buckets,
		},
		[]string{connectionLabel},
	)

	queuedJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      queuedJobsName,
			Help:      queuedJobsDesc,
		},
		[]string{queueLabel},
	)

	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(rehearsalDiffsTotal)
	prometheus.MustRegister(lockWaitDuration)
	prometheus.MustRegister(queuedJobsTotal)
}

// InstrumentExecution starts a timer for one migration body. The returned
// function stops the timer and counts the outcome.
func InstrumentExecution(migrationID, direction string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		if outcome == OutcomeApplied || outcome == OutcomeFailed {
			executionDuration.WithLabelValues(migrationID, direction).Observe(timeSince(start).Seconds())
		}
		executionsTotal.WithLabelValues(migrationID, direction, outcome).Inc()
	}
}

// ObserveExecution counts an execution that ran no body (skips and dry runs).
func ObserveExecution(migrationID, direction, outcome string) {
	executionsTotal.WithLabelValues(migrationID, direction, outcome).Inc()
}

// RehearsalDifferences counts the differences a rehearsal found.
func RehearsalDifferences(migrationID string, n int) {
	rehearsalDiffsTotal.WithLabelValues(migrationID).Add(float64(n))
}

// InstrumentLockWait starts a timer for acquiring the lock on connection.
func InstrumentLockWait(connection string) func() {
	start := time.Now()
	return func() {
		lockWaitDuration.WithLabelValues(connection).Observe(timeSince(start).Seconds())
	}
}

// JobQueued counts a job published to queueName.
func JobQueued(queueName string) {
	queuedJobsTotal.WithLabelValues(queueName).Inc()
}
