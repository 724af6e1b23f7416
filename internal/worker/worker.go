// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package worker implements the counter worker pool.
//
// Each slot claims tasks from the job queue and applies them to the entity
// store through store.Apply, which inserts the ledger entry and increments
// the counter in one transaction. Results are reported back to the queue:
//
//	applied / duplicate  → Complete
//	target not found     → Fail (backoff, dead letter after max attempts)
//	store unavailable    → Fail
//	breaker rejected     → Release (the attempt is not counted)
//	undecodable payload  → DeadLetter (poison)
//	shutdown mid-task    → not reported; the lease lapses and the task is redelivered
//
// Reports carry the lease holder. A slot whose lease lapsed and was claimed
// by another slot gets jobqueue.ErrLeaseNotHeld and drops its report; the
// live holder owns the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/chatcounter/internal/eventprocessor"
	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/metrics"
	"github.com/tomtom215/chatcounter/internal/store"
)

// ErrInvalidTask marks a task that can never be applied.
var ErrInvalidTask = errors.New("invalid task")

// errBreakerRejected means the store was never called for the task.
var errBreakerRejected = errors.New("store circuit breaker rejected the call")

// Queue is the part of *jobqueue.Queue used by workers.
type Queue interface {
	Claim(ctx context.Context, holder string, max int) ([]*jobqueue.Task, error)
	Complete(ctx context.Context, id, holder string) error
	Fail(ctx context.Context, id, holder string, cause error) (bool, error)
	Release(ctx context.Context, id, holder string) error
	DeadLetter(ctx context.Context, id, reason string) error
}

// Store is the part of *store.Store used by workers.
type Store interface {
	Apply(ctx context.Context, inc store.Increment) (store.Outcome, error)
}

// Stats is a snapshot of pool counters since start.
type Stats struct {
	Workers      int    `json:"workers"`
	Running      bool   `json:"running"`
	Applied      int64  `json:"applied"`
	Duplicates   int64  `json:"duplicates"`
	NotFound     int64  `json:"not_found"`
	Unavailable  int64  `json:"unavailable"`
	Invalid      int64  `json:"invalid"`
	DeadLettered int64  `json:"dead_lettered"`
	Rejected     int64  `json:"rejected"`
	StaleReports int64  `json:"stale_reports"`
	BreakerState string `json:"breaker_state"`
}

// Pool runs Config.Workers concurrent worker slots.
type Pool struct {
	queue   Queue
	store   Store
	config  Config
	breaker *gobreaker.CircuitBreaker[interface{}]
	limiter *rate.Limiter
	id      string

	applied      atomic.Int64
	duplicates   atomic.Int64
	notFound     atomic.Int64
	unavailable  atomic.Int64
	invalid      atomic.Int64
	deadLettered atomic.Int64
	rejected     atomic.Int64
	staleReports atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool creates a worker pool.
func NewPool(queue Queue, st Store, cfg Config) (*Pool, error) {
	if queue == nil || st == nil {
		return nil, fmt.Errorf("worker: queue and store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.ClaimRate > 0 {
		limit = rate.Limit(cfg.ClaimRate)
	}
	burst := cfg.ClaimBurst
	if burst < 1 {
		burst = 1
	}

	p := &Pool{
		queue:   queue,
		store:   st,
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		id:      uuid.New().String()[:8],
	}
	// Only outages trip the breaker. A missing target row is an expected,
	// per-task outcome.
	p.breaker = eventprocessor.NewCircuitBreaker(cfg.Breaker, func(err error) bool {
		return err == nil || !errors.Is(err, store.ErrUnavailable)
	})
	return p, nil
}

// IncrementFor derives the guarded increment a task stands for. The payload
// is decoded again so the target comes from the event itself, and the stored
// event ID must match the one the payload derives.
func IncrementFor(task *jobqueue.Task) (store.Increment, error) {
	t, err := events.ParseType(task.EventType)
	if err != nil {
		return store.Increment{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	ev, err := events.Decode(t, task.Payload)
	if err != nil {
		return store.Increment{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if ev.ID() != task.EventID {
		return store.Increment{}, fmt.Errorf("%w: event id %q does not match payload id %q", ErrInvalidTask, task.EventID, ev.ID())
	}

	inc := store.Increment{EventID: ev.ID(), EventType: t.String()}
	switch e := ev.(type) {
	case *events.ChatCreated:
		inc.Counter = store.ApplicationChats
		inc.Key = store.TokenKey(e.ApplicationToken)
	case *events.MessageCreated:
		inc.Counter = store.ChatMessages
		inc.Key = store.IDKey(e.ChatID)
	default:
		return store.Increment{}, fmt.Errorf("%w: no counter for %s", ErrInvalidTask, t)
	}
	return inc, nil
}

// Start launches the worker slots. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return fmt.Errorf("worker pool already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	for i := 0; i < p.config.Workers; i++ {
		holder := fmt.Sprintf("worker-%s-%d", p.id, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, holder)
		}()
	}

	logging.Info().
		Int("workers", p.config.Workers).
		Int("claim_batch", p.config.ClaimBatch).
		Msg("Counter worker pool started")
	return nil
}

// Stop cancels the slots and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.running.Store(false)
	logging.Info().Msg("Counter worker pool stopped")
}

// Serve runs the pool until ctx is canceled. It implements suture.Service.
func (p *Pool) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// String names the pool in supervisor logs.
func (p *Pool) String() string {
	return "counter-workers"
}

// IsRunning reports whether the slots are active.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:      p.config.Workers,
		Running:      p.running.Load(),
		Applied:      p.applied.Load(),
		Duplicates:   p.duplicates.Load(),
		NotFound:     p.notFound.Load(),
		Unavailable:  p.unavailable.Load(),
		Invalid:      p.invalid.Load(),
		DeadLettered: p.deadLettered.Load(),
		Rejected:     p.rejected.Load(),
		StaleReports: p.staleReports.Load(),
		BreakerState: eventprocessor.CircuitBreakerState(p.breaker),
	}
}

func (p *Pool) loop(ctx context.Context, holder string) {
	for {
		if ctx.Err() != nil {
			return
		}

		if p.breaker.State() == gobreaker.StateOpen {
			if !sleep(ctx, p.config.PollInterval) {
				return
			}
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		tasks, err := p.queue.Claim(ctx, holder, p.config.ClaimBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn().Err(err).Str("holder", holder).Msg("Claim failed")
			if !sleep(ctx, p.config.PollInterval) {
				return
			}
			continue
		}
		metrics.RecordClaimBatch(len(tasks))

		if len(tasks) == 0 {
			if !sleep(ctx, p.config.PollInterval) {
				return
			}
			continue
		}

		for _, task := range tasks {
			if err := p.ProcessTask(ctx, task); err != nil {
				logging.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to report task result")
			}
		}
	}
}

// ProcessTask applies one claimed task and reports the result to the queue.
// The returned error is only about reporting; task failures are handed to the
// queue's retry policy.
func (p *Pool) ProcessTask(ctx context.Context, task *jobqueue.Task) error {
	start := time.Now()
	metrics.TrackBusyWorker(true)
	defer metrics.TrackBusyWorker(false)

	ctx = logging.ContextWithTaskID(logging.ContextWithEventID(ctx, task.EventID), task.ID)
	log := logging.Ctx(ctx)

	reportCtx, cancelReport := context.WithTimeout(context.WithoutCancel(ctx), p.config.ReportTimeout)
	defer cancelReport()

	inc, err := IncrementFor(task)
	if err != nil {
		p.invalid.Add(1)
		p.deadLettered.Add(1)
		metrics.RecordTask(task.EventType, metrics.OutcomeInvalid, time.Since(start))
		log.Error().Err(err).Msg("Task can never be applied, dead-lettering")
		return p.queue.DeadLetter(reportCtx, task.ID, jobqueue.ReasonPoison)
	}

	outcome, err := p.apply(ctx, inc)
	switch {
	case err == nil:
		label := metrics.OutcomeApplied
		if outcome == store.OutcomeDuplicate {
			label = metrics.OutcomeDuplicate
			p.duplicates.Add(1)
			log.Debug().Msg("Duplicate delivery, ledger entry already present")
		} else {
			p.applied.Add(1)
			log.Debug().Str("counter", inc.Counter.String()).Str("key", inc.Key.String()).Msg("Increment applied")
		}
		metrics.RecordTask(task.EventType, label, time.Since(start))
		return p.report(ctx, p.queue.Complete(reportCtx, task.ID, task.LeaseHolder))

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// The transaction rolled back. Leave the lease to lapse so the task
		// is redelivered after the visibility timeout.
		metrics.RecordTask(task.EventType, metrics.OutcomeCanceled, time.Since(start))
		log.Info().Msg("Task interrupted by shutdown")
		return nil

	case errors.Is(err, errBreakerRejected):
		// The store was never called. Hand the task back without spending
		// an attempt; the loop pauses while the breaker is open.
		p.rejected.Add(1)
		metrics.RecordTask(task.EventType, metrics.OutcomeRejected, time.Since(start))
		log.Debug().Msg("Store breaker open, releasing task")
		return p.report(ctx, p.queue.Release(reportCtx, task.ID, task.LeaseHolder))

	case errors.Is(err, store.ErrNotFound):
		p.notFound.Add(1)
		metrics.RecordTask(task.EventType, metrics.OutcomeNotFound, time.Since(start))
		return p.fail(reportCtx, task, err, zerolog.InfoLevel)

	default:
		p.unavailable.Add(1)
		metrics.RecordTask(task.EventType, metrics.OutcomeUnavailable, time.Since(start))
		return p.fail(reportCtx, task, err, zerolog.WarnLevel)
	}
}

func (p *Pool) apply(ctx context.Context, inc store.Increment) (store.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.store.Apply(ctx, inc)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %w", errBreakerRejected, err)
		}
		return 0, err
	}
	return res.(store.Outcome), nil
}

func (p *Pool) fail(ctx context.Context, task *jobqueue.Task, cause error, level zerolog.Level) error {
	deadLettered, err := p.queue.Fail(ctx, task.ID, task.LeaseHolder, cause)
	if err != nil {
		return p.report(ctx, err)
	}
	if deadLettered {
		p.deadLettered.Add(1)
		level = zerolog.ErrorLevel
	}
	logging.Ctx(ctx).WithLevel(level).
		Err(cause).
		Int("attempts", task.Attempts).
		Bool("dead_lettered", deadLettered).
		Msg("Task failed")
	return nil
}

// report filters a queue report error. A lost lease means another slot
// claimed the task after ours lapsed; the ledger makes any double apply a
// no-op, so the stale report is dropped.
func (p *Pool) report(ctx context.Context, err error) error {
	if errors.Is(err, jobqueue.ErrLeaseNotHeld) {
		p.staleReports.Add(1)
		logging.Ctx(ctx).Info().Err(err).Msg("Lease lost to another worker, dropping stale report")
		return nil
	}
	return err
}

// sleep waits for d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
