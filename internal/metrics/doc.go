// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package metrics holds the Prometheus collectors shared across chatcounter.

Collectors are registered on the default registry through promauto and
exposed by the admin server at /metrics:

	curl http://localhost:8080/metrics

# Pipeline Metrics

Broker:
  - chatcounter_broker_publish_total{topic,status}
  - chatcounter_router_messages_total{handler,status}
  - chatcounter_poisoned_messages_total{event_type}
  - chatcounter_circuit_breaker_state{name}

Consumers and workers:
  - chatcounter_consumer_messages_total{event_type,outcome}
    outcome is enqueued, poisoned or unavailable
  - chatcounter_worker_tasks_total{event_type,outcome}
    outcome is applied, duplicate, not_found, unavailable, invalid or canceled
  - chatcounter_worker_task_duration_seconds{event_type}
  - chatcounter_workers_busy

Job queue collectors live in the jobqueue package under the
jobqueue_ prefix.

Audit:
  - chatcounter_audit_drifted_counters{counter,kind}
  - chatcounter_audit_runs_total{status}

A healthy deployment keeps chatcounter_audit_drifted_counters at zero.
*/
package metrics
