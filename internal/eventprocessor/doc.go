// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package eventprocessor is the broker layer of chatcounter: an embedded
// NATS JetStream server, the counter event stream, a deduplicating publisher,
// durable per-queue subscribers and a Watermill router carrying the ack
// discipline for the event consumers.
//
// # Topology
//
//	upstream API ──PublishEvent──▶ stream COUNTER_EVENTS
//	                                 ├── chat_created     ──▶ durable chatcounter-chat_created
//	                                 ├── message_created  ──▶ durable chatcounter-message_created
//	                                 └── counters.poison  (undecodable payloads)
//
// Each event type has its own durable consumer, so a backlog on one queue
// never delays the other.
//
// # Ack discipline
//
// Handlers registered on the Router decide the fate of a message by the error
// they return:
//
//   - nil: the message is acked.
//   - an error wrapping *PermanentError: the message is copied to the poison
//     topic with the failure reason in its metadata and then acked.
//   - any other error: Watermill retries in-process with backoff, then nacks.
//     JetStream redelivers after AckWait. MaxDeliver is unlimited by default
//     so nothing is dropped while the job queue is unavailable.
//
// # Deduplication
//
// PublishEvent sets Nats-Msg-Id to the event's payload-derived ID. JetStream
// discards duplicates published inside the stream's duplicate window. This is
// an optimization only; correctness comes from the idempotency ledger.
package eventprocessor
