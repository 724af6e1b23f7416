// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package admin is the operator HTTP API for chatcounter, built on chi.

# Endpoints

	GET  /healthz                          store, queue and broker checks (200 / 503)
	GET  /metrics                          Prometheus exposition
	GET  /api/v1/queue/stats               job queue and worker pool statistics
	GET  /api/v1/deadletters               dead-lettered tasks (event_type, reason, limit, offset)
	GET  /api/v1/deadletters/{id}          one dead-lettered task, with payload
	POST /api/v1/deadletters/{id}/replay   move one task back to pending
	POST /api/v1/deadletters/replay        move every dead-lettered task back to pending
	GET  /api/v1/applications/{token}      application with its chats_count
	GET  /api/v1/chats/{id}                chat with its messages_count
	GET  /api/v1/audit/drift               on-demand read-only counter audit
	POST /api/v1/events/{type}             validate and publish a contract event

Every /api/v1 response uses the APIResponse envelope. Routes under /api/v1
are rate limited per client IP with httprate and recorded in Prometheus by
route pattern.

The API never writes counters. Replay only moves tasks back into the queue;
the worker and the idempotency ledger decide whether anything is applied.
*/
package admin
