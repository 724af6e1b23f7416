// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/chatcounter/internal/logging"
)

// Compactor periodically removes completed tasks past their retention window
// and runs BadgerDB value log GC. Pending and dead tasks are never touched.
type Compactor struct {
	queue  *Queue
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	lastRun     time.Time
	lastRemoved int
}

// CompactorStats contains statistics about compaction.
type CompactorStats struct {
	LastRun     time.Time
	LastRemoved int
}

// NewCompactor creates a compactor for q.
func NewCompactor(q *Queue) *Compactor {
	return &Compactor{
		queue:  q,
		config: q.Config(),
	}
}

// Start begins the background compaction loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	logging.Info().
		Dur("interval", c.config.CompactInterval).
		Dur("retention", c.config.CompletedRetention).
		Msg("Job queue compactor started")
	return nil
}

// Stop stops the compaction loop and waits for an in-flight run to finish.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("Job queue compactor stopped")
}

// IsRunning returns whether the compactor is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compactor) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.compact(c.ctx)
		}
	}
}

func (c *Compactor) compact(ctx context.Context) {
	start := time.Now()

	removed, err := c.queue.CleanupCompleted(ctx, c.config.CompletedRetention)
	if err != nil {
		logging.Error().Err(err).Msg("Job queue compaction failed to delete completed tasks")
	}

	if err := c.queue.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Job queue compaction GC error")
	}

	// refreshes the depth gauges
	stats := c.queue.Stats()

	c.mu.Lock()
	c.lastRun = time.Now()
	c.lastRemoved = removed
	c.mu.Unlock()

	RecordCompaction(removed)
	if removed > 0 {
		logging.Info().
			Int("removed", removed).
			Int64("pending", stats.Pending).
			Int64("dead", stats.Dead).
			Dur("duration", time.Since(start)).
			Msg("Job queue compaction removed completed tasks")
	}
}

// RunNow runs one compaction pass synchronously.
func (c *Compactor) RunNow(ctx context.Context) {
	c.compact(ctx)
}

// Stats returns compaction statistics.
func (c *Compactor) Stats() CompactorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CompactorStats{LastRun: c.lastRun, LastRemoved: c.lastRemoved}
}
