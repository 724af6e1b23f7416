// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for job queue operations
var (
	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_enqueued_total",
		Help: "Total number of tasks durably enqueued",
	}, []string{"event_type"})

	queueClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_claimed_total",
		Help: "Total number of task deliveries to workers",
	})

	queueCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_completed_total",
		Help: "Total number of tasks completed",
	})

	queueFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_failed_total",
		Help: "Total number of failed task attempts scheduled for retry",
	})

	queueDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_dead_lettered_total",
		Help: "Total number of tasks moved to the dead-letter set",
	}, []string{"reason"})

	queueReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_replayed_total",
		Help: "Total number of dead-lettered tasks replayed by an operator",
	})

	queuePendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobqueue_pending_tasks",
		Help: "Current number of pending tasks, including leased ones",
	})

	queueDeadTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobqueue_dead_tasks",
		Help: "Current number of dead-lettered tasks",
	})

	queueEnqueueLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobqueue_enqueue_latency_seconds",
		Help:    "Durable enqueue latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	queueDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobqueue_db_size_bytes",
		Help: "BadgerDB database size in bytes",
	})

	queueCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_compactions_total",
		Help: "Total number of compaction runs",
	})

	queueTasksCompactedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_tasks_compacted_total",
		Help: "Total number of completed tasks removed by compaction",
	})
)

// RecordEnqueue records a durable enqueue.
func RecordEnqueue(eventType string, latencySeconds float64) {
	queueEnqueuedTotal.WithLabelValues(eventType).Inc()
	queueEnqueueLatency.Observe(latencySeconds)
}

// RecordClaimed records n task deliveries.
func RecordClaimed(n int) {
	queueClaimedTotal.Add(float64(n))
}

// RecordCompleted records a completed task.
func RecordCompleted() {
	queueCompletedTotal.Inc()
}

// RecordFailed records a failed attempt that will be retried.
func RecordFailed() {
	queueFailedTotal.Inc()
}

// RecordDeadLettered records a task moved to the dead-letter set.
func RecordDeadLettered(reason string) {
	queueDeadLetteredTotal.WithLabelValues(reason).Inc()
}

// RecordReplayed records an operator replay.
func RecordReplayed() {
	queueReplayedTotal.Inc()
}

// UpdateGauges sets the current queue depth and database size.
func UpdateGauges(pending, dead, dbSizeBytes int64) {
	queuePendingTasks.Set(float64(pending))
	queueDeadTasks.Set(float64(dead))
	queueDBSizeBytes.Set(float64(dbSizeBytes))
}

// RecordCompaction records a compaction run that removed n tasks.
func RecordCompaction(n int) {
	queueCompactionsTotal.Inc()
	if n > 0 {
		queueTasksCompactedTotal.Add(float64(n))
	}
}
