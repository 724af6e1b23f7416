// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package config

import (
	"time"
)

// Config holds all chatcounter configuration.
type Config struct {
	NATS       NATSConfig       `koanf:"nats"`
	Router     RouterConfig     `koanf:"router"`
	Queue      QueueConfig      `koanf:"queue"`
	Store      StoreConfig      `koanf:"store"`
	Worker     WorkerConfig     `koanf:"worker"`
	Audit      AuditConfig      `koanf:"audit"`
	Admin      AdminConfig      `koanf:"admin"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// NATSConfig configures the broker connection, the counter stream and the
// per-event-type durable consumers.
type NATSConfig struct {
	// URL of an external NATS server. Ignored when EmbeddedServer is true.
	URL string `koanf:"url"`

	// EmbeddedServer runs a JetStream server inside the process.
	// Default: true
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName      string        `koanf:"stream_name"`
	StreamRetention time.Duration `koanf:"stream_retention"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`

	// DurableName and QueueGroup are prefixes; each event type appends its name.
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWait          time.Duration `koanf:"ack_wait"`

	// MaxDeliver <= 0 means unlimited redelivery. A message whose enqueue
	// keeps failing must never be dropped by the broker.
	MaxDeliver    int `koanf:"max_deliver"`
	MaxAckPending int `koanf:"max_ack_pending"`
}

// RouterConfig configures the Watermill router middleware.
type RouterConfig struct {
	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	ThrottlePerSecond    int64         `koanf:"throttle_per_second"`
	PoisonQueueEnabled   bool          `koanf:"poison_queue_enabled"`
	PoisonQueueTopic     string        `koanf:"poison_queue_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// QueueConfig configures the durable job queue.
type QueueConfig struct {
	Path               string        `koanf:"path"`
	SyncWrites         bool          `koanf:"sync_writes"`
	MaxAttempts        int           `koanf:"max_attempts"`
	BackoffBase        time.Duration `koanf:"backoff_base"`
	BackoffMax         time.Duration `koanf:"backoff_max"`
	VisibilityTimeout  time.Duration `koanf:"visibility_timeout"`
	CompletedRetention time.Duration `koanf:"completed_retention"`
	CompactInterval    time.Duration `koanf:"compact_interval"`
}

// StoreConfig configures the SQLite entity store.
type StoreConfig struct {
	Path         string        `koanf:"path"`
	BusyTimeout  time.Duration `koanf:"busy_timeout"`
	MaxOpenConns int           `koanf:"max_open_conns"`
}

// WorkerConfig configures the counter worker pool.
type WorkerConfig struct {
	Count            int           `koanf:"count"`
	ClaimBatch       int           `koanf:"claim_batch"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	ClaimRate        float64       `koanf:"claim_rate"`
	ClaimBurst       int           `koanf:"claim_burst"`
	TaskTimeout      time.Duration `koanf:"task_timeout"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// AuditConfig configures the periodic read-only drift audit.
type AuditConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller adds file:line to every entry.
	Caller bool `koanf:"caller"`
}

// SupervisorConfig holds suture supervisor tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
