// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package main is the entry point for the chatcounter server.

Chatcounter maintains two derived counters, chats_count per application and
messages_count per chat, from chat_created and message_created events. Events
arrive on NATS JetStream, are durably enqueued in a BadgerDB job queue and are
applied by a worker pool to a SQLite store behind an idempotency ledger, so a
redelivered or republished event is counted at most once.

# Application Architecture

	RootSupervisor ("chatcounter")
	├── DataSupervisor ("data-layer")
	│   ├── queue-compactor (completed task cleanup, BadgerDB GC)
	│   └── counter-audit (periodic drift report, optional)
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── counter-workers (claim → ledger + increment → complete)
	│   └── event-router (one JetStream consumer per event type)
	└── APISupervisor ("api-layer")
	    └── admin-server (health, metrics, dead letters, counters)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config.yaml and environment variables
 2. Logging: zerolog with JSON/console output modes
 3. Counter store: SQLite with embedded migrations
 4. Job queue: BadgerDB, with a recovery summary logged on open
 5. NATS: embedded or external server, stream provisioning, publisher
 6. Supervisor tree: Suture v4 process supervision of every long-running loop

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
  - Environment variables (NATS_URL, WORKER_COUNT, QUEUE_PATH, ...)
  - Config file (CONFIG_PATH, config.yaml, /etc/chatcounter/config.yaml)
  - Built-in defaults

Changes to logging.level in the config file are applied without a restart.

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:
  - The router stops consuming; unacked messages stay in JetStream
  - Workers finish or release their current tasks
  - The admin server drains in-flight requests
  - The publisher, NATS connection, queue and store are closed in that order

# Example Usage

Single node with the embedded NATS server:

	export QUEUE_PATH=/var/lib/chatcounter/queue
	export STORE_PATH=/var/lib/chatcounter/counters.db
	export NATS_STORE_DIR=/var/lib/chatcounter/jetstream
	./chatcounter

Against an external NATS cluster:

	export NATS_EMBEDDED=false
	export NATS_URL=nats://nats.internal:4222
	export WORKER_COUNT=8
	./chatcounter
*/
package main
