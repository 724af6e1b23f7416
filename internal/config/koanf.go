// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chatcounter/config.yaml",
	"/etc/chatcounter/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all defaults.
// These are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			Host:             "127.0.0.1",
			Port:             4222,
			StoreDir:         "/data/chatcounter/jetstream",
			MaxMemory:        256 << 20, // 256MB
			MaxStore:         4 << 30,   // 4GB
			StreamName:       "COUNTER_EVENTS",
			StreamRetention:  7 * 24 * time.Hour,
			DuplicateWindow:  2 * time.Minute,
			DurableName:      "chatcounter",
			QueueGroup:       "chatcounter",
			SubscribersCount: 2,
			AckWait:          30 * time.Second,
			MaxDeliver:       -1,
			MaxAckPending:    1000,
		},
		Router: RouterConfig{
			RetryCount:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     2 * time.Second,
			ThrottlePerSecond:    0,
			PoisonQueueEnabled:   true,
			PoisonQueueTopic:     "counters.poison",
			CloseTimeout:         30 * time.Second,
		},
		Queue: QueueConfig{
			Path:               "/data/chatcounter/queue",
			SyncWrites:         true,
			MaxAttempts:        10,
			BackoffBase:        time.Second,
			BackoffMax:         5 * time.Minute,
			VisibilityTimeout:  time.Minute,
			CompletedRetention: 24 * time.Hour,
			CompactInterval:    10 * time.Minute,
		},
		Store: StoreConfig{
			Path:         "/data/chatcounter/counters.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 8,
		},
		Worker: WorkerConfig{
			Count:            4,
			ClaimBatch:       1,
			PollInterval:     250 * time.Millisecond,
			ClaimRate:        0, // unlimited
			ClaimBurst:       1,
			TaskTimeout:      10 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
		},
		Admin: AdminConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8089,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// Precedence is ENV > File > Defaults. The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file path. An empty path
// falls back to the default search.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	// NATS_URL -> nats.url
	// WORKER_COUNT -> worker.count
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file LoadWithKoanf reads, or "" when none exists.
func ConfigFile() string {
	return findConfigFile()
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Broker
	"nats_url":               "nats.url",
	"nats_embedded":          "nats.embedded_server",
	"nats_host":              "nats.host",
	"nats_port":              "nats.port",
	"nats_store_dir":         "nats.store_dir",
	"nats_max_memory":        "nats.max_memory",
	"nats_max_store":         "nats.max_store",
	"nats_stream_name":       "nats.stream_name",
	"nats_stream_retention":  "nats.stream_retention",
	"nats_duplicate_window":  "nats.duplicate_window",
	"nats_durable_name":      "nats.durable_name",
	"nats_queue_group":       "nats.queue_group",
	"nats_subscribers":       "nats.subscribers_count",
	"nats_ack_wait":          "nats.ack_wait",
	"nats_max_deliver":       "nats.max_deliver",
	"nats_max_ack_pending":   "nats.max_ack_pending",
	"router_retry_count":     "router.retry_count",
	"router_throttle":        "router.throttle_per_second",
	"router_poison_enabled":  "router.poison_queue_enabled",
	"router_poison_topic":    "router.poison_queue_topic",
	"router_close_timeout":   "router.close_timeout",
	"router_retry_interval":  "router.retry_initial_interval",
	"router_retry_max_delay": "router.retry_max_interval",

	// Job queue
	"queue_path":                "queue.path",
	"queue_sync_writes":         "queue.sync_writes",
	"queue_max_attempts":        "queue.max_attempts",
	"queue_backoff_base":        "queue.backoff_base",
	"queue_backoff_max":         "queue.backoff_max",
	"queue_visibility_timeout":  "queue.visibility_timeout",
	"queue_completed_retention": "queue.completed_retention",
	"queue_compact_interval":    "queue.compact_interval",

	// Entity store
	"store_path":           "store.path",
	"store_busy_timeout":   "store.busy_timeout",
	"store_max_open_conns": "store.max_open_conns",

	// Workers
	"worker_count":             "worker.count",
	"worker_claim_batch":       "worker.claim_batch",
	"worker_poll_interval":     "worker.poll_interval",
	"worker_claim_rate":        "worker.claim_rate",
	"worker_claim_burst":       "worker.claim_burst",
	"worker_task_timeout":      "worker.task_timeout",
	"worker_breaker_threshold": "worker.breaker_threshold",
	"worker_breaker_timeout":   "worker.breaker_timeout",

	// Audit
	"audit_enabled":  "audit.enabled",
	"audit_interval": "audit.interval",

	// Admin HTTP
	"admin_enabled":           "admin.enabled",
	"admin_host":              "admin.host",
	"admin_port":              "admin.port",
	"admin_read_timeout":      "admin.read_timeout",
	"admin_write_timeout":     "admin.write_timeout",
	"admin_rate_limit_reqs":   "admin.rate_limit_reqs",
	"admin_rate_limit_window": "admin.rate_limit_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - NATS_URL -> nats.url
//   - QUEUE_PATH -> queue.path
//   - WORKER_COUNT -> worker.count
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// Unmapped keys are skipped so unrelated environment variables never
	// pollute the configuration.
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for synchronizing access to configuration
// during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
