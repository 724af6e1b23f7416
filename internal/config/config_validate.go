// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateNATS,
		c.validateRouter,
		c.validateQueue,
		c.validateStore,
		c.validateWorker,
		c.validateAudit,
		c.validateAdmin,
		c.validateLogging,
		c.validateSupervisor,
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

// NATS limit constants
const (
	natsMinMemory      = 16 * 1024 * 1024 // 16MB
	natsMinStore       = 64 * 1024 * 1024 // 64MB
	natsMaxSubscribers = 64
	natsMinAckWait     = time.Second
)

func (c *Config) validateNATS() error {
	if c.NATS.EmbeddedServer {
		if err := c.validateEmbeddedNATS(); err != nil {
			return err
		}
	} else if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}

	if strings.TrimSpace(c.NATS.StreamName) == "" {
		return fmt.Errorf("NATS_STREAM_NAME is required")
	}
	if strings.ContainsAny(c.NATS.StreamName, " .*>") {
		return fmt.Errorf("NATS_STREAM_NAME must not contain spaces, dots or wildcards")
	}
	if c.NATS.DurableName == "" {
		return fmt.Errorf("NATS_DURABLE_NAME is required")
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > natsMaxSubscribers {
		return fmt.Errorf("NATS_SUBSCRIBERS must be between 1 and %d", natsMaxSubscribers)
	}
	if c.NATS.AckWait < natsMinAckWait {
		return fmt.Errorf("NATS_ACK_WAIT must be at least %v", natsMinAckWait)
	}
	if c.NATS.MaxAckPending < 1 {
		return fmt.Errorf("NATS_MAX_ACK_PENDING must be at least 1")
	}
	if c.NATS.DuplicateWindow < 0 {
		return fmt.Errorf("NATS_DUPLICATE_WINDOW must not be negative")
	}
	return nil
}

func (c *Config) validateEmbeddedNATS() error {
	if c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required for the embedded server")
	}
	if c.NATS.Port < 1 || c.NATS.Port > 65535 {
		return fmt.Errorf("NATS_PORT must be between 1 and 65535")
	}
	if c.NATS.MaxMemory < natsMinMemory {
		return fmt.Errorf("NATS_MAX_MEMORY must be at least 16MB")
	}
	if c.NATS.MaxStore < natsMinStore {
		return fmt.Errorf("NATS_MAX_STORE must be at least 64MB")
	}
	return nil
}

// validateNATSURL accepts nats:// and tls:// URLs with a host.
func validateNATSURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "nats", "tls":
	default:
		return fmt.Errorf("scheme must be nats or tls, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func (c *Config) validateRouter() error {
	if c.Router.RetryCount < 0 {
		return fmt.Errorf("ROUTER_RETRY_COUNT must not be negative")
	}
	if c.Router.RetryCount > 0 && c.Router.RetryInitialInterval <= 0 {
		return fmt.Errorf("router.retry_initial_interval must be positive when retries are enabled")
	}
	if c.Router.RetryMaxInterval < c.Router.RetryInitialInterval {
		return fmt.Errorf("router.retry_max_interval must be at least retry_initial_interval")
	}
	if c.Router.ThrottlePerSecond < 0 {
		return fmt.Errorf("ROUTER_THROTTLE must not be negative")
	}
	if c.Router.PoisonQueueEnabled && c.Router.PoisonQueueTopic == "" {
		return fmt.Errorf("ROUTER_POISON_TOPIC is required when the poison queue is enabled")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Path == "" {
		return fmt.Errorf("QUEUE_PATH is required")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be positive")
	}
	if c.Queue.BackoffMax < c.Queue.BackoffBase {
		return fmt.Errorf("QUEUE_BACKOFF_MAX must be at least QUEUE_BACKOFF_BASE")
	}
	if c.Queue.VisibilityTimeout < time.Second {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be at least 1s")
	}
	if c.Queue.VisibilityTimeout <= c.Worker.TaskTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must exceed WORKER_TASK_TIMEOUT")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.Store.MaxOpenConns < 1 {
		return fmt.Errorf("STORE_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.Worker.ClaimBatch < 1 {
		return fmt.Errorf("WORKER_CLAIM_BATCH must be at least 1")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	if c.Worker.ClaimRate < 0 {
		return fmt.Errorf("WORKER_CLAIM_RATE must not be negative")
	}
	if c.Worker.TaskTimeout <= 0 {
		return fmt.Errorf("WORKER_TASK_TIMEOUT must be positive")
	}
	if c.Worker.BreakerThreshold < 1 {
		return fmt.Errorf("WORKER_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Enabled && c.Audit.Interval < time.Second {
		return fmt.Errorf("AUDIT_INTERVAL must be at least 1s")
	}
	return nil
}

func (c *Config) validateAdmin() error {
	if !c.Admin.Enabled {
		return nil
	}
	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		return fmt.Errorf("ADMIN_PORT must be between 1 and 65535")
	}
	if c.Admin.RateLimitReqs < 0 {
		return fmt.Errorf("ADMIN_RATE_LIMIT_REQS must not be negative")
	}
	if c.Admin.RateLimitReqs > 0 && c.Admin.RateLimitWindow <= 0 {
		return fmt.Errorf("ADMIN_RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	return nil
}

// validLogLevels defines the allowed log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if c.Supervisor.FailureThreshold <= 0 {
		return fmt.Errorf("SUPERVISOR_FAILURE_THRESHOLD must be positive")
	}
	if c.Supervisor.FailureDecay <= 0 {
		return fmt.Errorf("SUPERVISOR_FAILURE_DECAY must be positive")
	}
	if c.Supervisor.ShutdownTimeout <= 0 {
		return fmt.Errorf("SUPERVISOR_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
