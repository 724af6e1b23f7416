// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package jobqueue

import (
	"time"
)

// Config holds configuration for the durable job queue.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	Path string

	// SyncWrites forces fsync after every write. Enqueue only reports success
	// once the task is on disk, so this should stay on in production.
	SyncWrites bool

	// MaxAttempts is the number of deliveries before a task is dead-lettered.
	MaxAttempts int

	// BackoffBase is the delay after the first failed attempt.
	BackoffBase time.Duration

	// BackoffMax caps the exponential backoff.
	BackoffMax time.Duration

	// VisibilityTimeout is how long a claimed task stays invisible to other
	// workers. A worker that dies mid-task leaves a lease that expires after
	// this duration, and the task is delivered again.
	VisibilityTimeout time.Duration

	// CompletedRetention is how long completed tasks are kept before compaction.
	CompletedRetention time.Duration

	// CompactInterval is the time between compaction runs.
	CompactInterval time.Duration

	// MemTableSize is the size of each memtable in bytes.
	MemTableSize int64

	// ValueLogFileSize is the size of each value log file in bytes.
	ValueLogFileSize int64

	// NumCompactors is the number of BadgerDB compaction workers.
	NumCompactors int

	// Compression enables Snappy compression.
	Compression bool

	// CloseTimeout is the maximum time to wait for graceful shutdown.
	CloseTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the job queue.
func DefaultConfig() Config {
	return Config{
		Path:               "/data/chatcounter/queue",
		SyncWrites:         true,
		MaxAttempts:        10,
		BackoffBase:        time.Second,
		BackoffMax:         5 * time.Minute,
		VisibilityTimeout:  time.Minute,
		CompletedRetention: 24 * time.Hour,
		CompactInterval:    10 * time.Minute,
		MemTableSize:       16 * 1024 * 1024, // 16MB
		ValueLogFileSize:   64 * 1024 * 1024, // 64MB
		NumCompactors:      2,
		Compression:        true,
		CloseTimeout:       30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "queue path is required"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MaxAttempts", Message: "must be at least 1"}
	}
	if c.BackoffBase <= 0 {
		return &ConfigError{Field: "BackoffBase", Message: "must be positive"}
	}
	if c.BackoffMax < c.BackoffBase {
		return &ConfigError{Field: "BackoffMax", Message: "must be at least BackoffBase"}
	}
	if c.VisibilityTimeout < time.Second {
		return &ConfigError{Field: "VisibilityTimeout", Message: "must be at least 1 second"}
	}
	if c.CompactInterval < time.Second {
		return &ConfigError{Field: "CompactInterval", Message: "must be at least 1 second"}
	}
	if c.CompletedRetention < 0 {
		return &ConfigError{Field: "CompletedRetention", Message: "must not be negative"}
	}
	if c.MemTableSize < 1024*1024 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1024*1024 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	return nil
}

// Backoff returns the delay before the next delivery of a task that has
// already been delivered attempts times: min(BackoffBase * 2^(attempts-1), BackoffMax).
func (c *Config) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	// 2^40 seconds is far past any sane cap
	if attempts > 40 {
		return c.BackoffMax
	}

	backoff := c.BackoffBase << uint(attempts-1) //nolint:gosec // attempts bounded above
	if backoff <= 0 || backoff > c.BackoffMax {
		return c.BackoffMax
	}
	return backoff
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "job queue config error: " + e.Field + ": " + e.Message
}
