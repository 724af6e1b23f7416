// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package worker

import (
	"fmt"
	"time"

	"github.com/tomtom215/chatcounter/internal/eventprocessor"
)

// Config controls the worker pool. Pool size bounds resource usage only;
// correctness never depends on it.
type Config struct {
	// Workers is the number of concurrent worker slots.
	Workers int

	// ClaimBatch is how many tasks a slot leases per claim.
	ClaimBatch int

	// PollInterval is the idle wait when the queue has nothing visible.
	PollInterval time.Duration

	// ClaimRate limits claims per second across the pool (0 = unlimited).
	ClaimRate  float64
	ClaimBurst int

	// TaskTimeout bounds one store transaction. It must stay well below the
	// queue visibility timeout so a lease never lapses mid-transaction.
	TaskTimeout time.Duration

	// ReportTimeout bounds Complete/Fail calls, which run even during shutdown.
	ReportTimeout time.Duration

	// Breaker guards the entity store. While open, workers stop claiming so
	// an outage does not burn retry attempts.
	Breaker eventprocessor.CircuitBreakerConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		ClaimBatch:    1,
		PollInterval:  250 * time.Millisecond,
		ClaimRate:     0,
		ClaimBurst:    1,
		TaskTimeout:   10 * time.Second,
		ReportTimeout: 5 * time.Second,
		Breaker:       eventprocessor.DefaultCircuitBreakerConfig("entity-store"),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("worker: workers must be at least 1, got %d", c.Workers)
	case c.ClaimBatch < 1:
		return fmt.Errorf("worker: claim batch must be at least 1, got %d", c.ClaimBatch)
	case c.PollInterval <= 0:
		return fmt.Errorf("worker: poll interval must be positive")
	case c.ClaimRate < 0:
		return fmt.Errorf("worker: claim rate must not be negative")
	case c.TaskTimeout <= 0 || c.ReportTimeout <= 0:
		return fmt.Errorf("worker: task and report timeouts must be positive")
	case c.Breaker.FailureThreshold == 0:
		return fmt.Errorf("worker: breaker failure threshold must be at least 1")
	}
	return nil
}
