// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the consumer and worker metrics.
const (
	OutcomeEnqueued    = "enqueued"
	OutcomePoisoned    = "poisoned"
	OutcomeUnavailable = "unavailable"
	OutcomeApplied     = "applied"
	OutcomeDuplicate   = "duplicate"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeCanceled    = "canceled"
	OutcomeRejected    = "rejected"
)

var (
	// Broker Metrics
	BrokerPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_broker_publish_total",
			Help: "Total events published to the broker",
		},
		[]string{"topic", "status"},
	)

	RouterMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_router_messages_total",
			Help: "Total broker messages handled by the router",
		},
		[]string{"handler", "status"},
	)

	RouterHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcounter_router_handler_duration_seconds",
			Help:    "Duration of router handler execution",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"handler"},
	)

	PoisonedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_poisoned_messages_total",
			Help: "Total undecodable messages routed to the poison topic",
		},
		[]string{"event_type"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatcounter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Consumer Metrics
	ConsumerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_consumer_messages_total",
			Help: "Total messages handled by event consumers by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// Worker Metrics
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_worker_tasks_total",
			Help: "Total tasks processed by counter workers by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WorkerTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcounter_worker_task_duration_seconds",
			Help:    "Duration of a single counter increment transaction",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1},
		},
		[]string{"event_type"},
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcounter_workers_busy",
			Help: "Number of workers currently processing a task",
		},
	)

	WorkerClaimBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatcounter_worker_claim_batch_size",
			Help:    "Number of tasks returned per claim",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcounter_store_operation_duration_seconds",
			Help:    "Duration of entity store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_store_operation_errors_total",
			Help: "Total entity store operation errors",
		},
		[]string{"operation"},
	)

	// Audit Metrics
	AuditDriftedCounters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatcounter_audit_drifted_counters",
			Help: "Counters whose stored value disagrees with rows or ledger at the last audit",
		},
		[]string{"counter", "kind"},
	)

	AuditRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_audit_runs_total",
			Help: "Total drift audit runs",
		},
		[]string{"status"},
	)

	AuditDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatcounter_audit_duration_seconds",
			Help:    "Duration of a drift audit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcounter_http_requests_total",
			Help: "Total admin HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcounter_http_request_duration_seconds",
			Help:    "Admin HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcounter_http_requests_in_flight",
			Help: "Admin HTTP requests currently being served",
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordPublish records an event publish attempt.
func RecordPublish(topic string, err error) {
	BrokerPublishTotal.WithLabelValues(topic, status(err)).Inc()
}

// RecordRouterMessage records the final outcome of a routed message.
func RecordRouterMessage(handler string, err error, duration time.Duration) {
	if handler == "" {
		handler = "unknown"
	}
	RouterMessagesTotal.WithLabelValues(handler, status(err)).Inc()
	RouterHandlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordPoisoned records a message sent to the poison topic.
func RecordPoisoned(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	PoisonedMessagesTotal.WithLabelValues(eventType).Inc()
}

// RecordBreakerState records a circuit breaker transition. state follows
// gobreaker's numbering.
func RecordBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordConsumed records the outcome of one consumed broker message.
func RecordConsumed(eventType, outcome string) {
	ConsumerMessagesTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordTask records the outcome and duration of one worker task.
func RecordTask(eventType, outcome string, duration time.Duration) {
	WorkerTasksTotal.WithLabelValues(eventType, outcome).Inc()
	WorkerTaskDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// TrackBusyWorker tracks workers currently holding a task.
func TrackBusyWorker(inc bool) {
	if inc {
		WorkersBusy.Inc()
	} else {
		WorkersBusy.Dec()
	}
}

// RecordClaimBatch records the size of one claim.
func RecordClaimBatch(n int) {
	WorkerClaimBatchSize.Observe(float64(n))
}

// RecordStoreOperation records an entity store operation.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAudit records one drift audit. drifted maps counter name and drift
// kind to the number of drifted counters found.
func RecordAudit(duration time.Duration, drifted map[[2]string]int, err error) {
	AuditRunsTotal.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	AuditDuration.Observe(duration.Seconds())
	AuditDriftedCounters.Reset()
	for key, n := range drifted {
		AuditDriftedCounters.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active admin API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
