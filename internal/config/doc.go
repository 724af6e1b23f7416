// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package config provides centralized configuration management for chatcounter.

Configuration is layered with Koanf v2:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml, ./config.yml,
    /etc/chatcounter/config.yaml, /etc/chatcounter/config.yml
 3. Environment variables, which win over everything else

Only explicitly mapped environment variables are read (see envMappings), so
unrelated variables in the process environment never leak into the config.

# Sections

  - nats: embedded server, stream, and durable consumer settings
  - router: Watermill retry, throttle, and poison queue settings
  - queue: BadgerDB job queue path, retry budget, and backoff
  - store: SQLite entity store and idempotency ledger
  - worker: counter worker pool size, claim rate, and circuit breaker
  - audit: periodic read-only counter drift audit
  - admin: admin HTTP server
  - logging: zerolog level and format
  - supervisor: suture restart policy

# Environment Variables

Frequently used variables:
  - NATS_URL: external broker (used when NATS_EMBEDDED=false)
  - NATS_STORE_DIR: JetStream storage for the embedded server
  - QUEUE_PATH: job queue directory (default: /data/chatcounter/queue)
  - QUEUE_MAX_ATTEMPTS: deliveries before a task is dead-lettered (default: 10)
  - STORE_PATH: SQLite database file (default: /data/chatcounter/counters.db)
  - WORKER_COUNT: concurrent counter workers (default: 4)
  - ADMIN_PORT: admin HTTP port (default: 8089)
  - LOG_LEVEL: trace, debug, info, warn, error (default: info)

The component option helpers (QueueOptions, WorkerOptions, and so on) convert
the loaded sections into each package's own Config type.
*/
package config
