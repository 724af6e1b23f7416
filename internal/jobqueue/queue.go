// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tomtom215/chatcounter/internal/logging"
)

var (
	// ErrUnavailable means the queue could not durably accept or update a task.
	// Callers must treat the operation as not having happened.
	ErrUnavailable = errors.New("job queue unavailable")

	// ErrClosed is returned after Close. It wraps ErrUnavailable.
	ErrClosed = fmt.Errorf("%w: queue is closed", ErrUnavailable)

	// ErrTaskNotFound is returned when a task is not in the expected state.
	ErrTaskNotFound = errors.New("task not found")

	// ErrLeaseNotHeld is returned when a worker touches a task leased by someone else.
	ErrLeaseNotHeld = errors.New("task lease held by another worker")
)

// Task key prefixes. A task lives under exactly one prefix at a time.
const (
	prefixPending = "task:pending:"
	prefixDone    = "task:done:"
	prefixDead    = "task:dead:"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateDead    State = "dead"
)

// Dead-letter reasons.
const (
	ReasonMaxAttempts  = "max_attempts"
	ReasonLeaseExpired = "lease_expired"
	ReasonPoison       = "poison"
)

// NewTask is the work item submitted by an event consumer.
type NewTask struct {
	EventType string
	EventID   string
	Payload   json.RawMessage
}

// Task is a durable unit of work.
type Task struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	State     State           `json:"state"`
	CreatedAt time.Time       `json:"created_at"`

	// Attempts counts deliveries, incremented when a worker claims the task.
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	// LeaseExpiry is zero when the task is not claimed. An expired lease makes
	// the task visible again.
	LeaseExpiry time.Time `json:"lease_expiry,omitempty"`
	LeaseHolder string    `json:"lease_holder,omitempty"`

	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DeadLetteredAt   *time.Time `json:"dead_lettered_at,omitempty"`
	DeadLetterReason string     `json:"dead_letter_reason,omitempty"`
	Replays          int        `json:"replays,omitempty"`
}

func (t *Task) leased(now time.Time) bool {
	return !t.LeaseExpiry.IsZero() && now.Before(t.LeaseExpiry)
}

func (t *Task) claimable(now time.Time) bool {
	return !t.leased(now) && !now.Before(t.NextAttemptAt)
}

// checkHolder reports ErrLeaseNotHeld unless holder made the latest claim. A
// lapsed lease still belongs to its holder until someone else claims the task.
func (t *Task) checkHolder(holder string) error {
	if t.LeaseHolder != holder {
		return fmt.Errorf("%w: held by %q", ErrLeaseNotHeld, t.LeaseHolder)
	}
	return nil
}

// Stats contains queue metrics for monitoring.
type Stats struct {
	Pending       int64 `json:"pending"`
	Leased        int64 `json:"leased"`
	Dead          int64 `json:"dead"`
	Completed     int64 `json:"completed"`
	TotalEnqueued int64 `json:"total_enqueued"`
	TotalClaimed  int64 `json:"total_claimed"`
	TotalDone     int64 `json:"total_done"`
	TotalFailed   int64 `json:"total_failed"`
	TotalDead     int64 `json:"total_dead"`
	TotalReplayed int64 `json:"total_replayed"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// RecoveryResult summarizes the queue state found on open.
type RecoveryResult struct {
	Pending       int
	ExpiredLeases int
	Dead          int
}

// Queue is a durable at-least-once work queue on BadgerDB.
//
// Tasks are claimed with a lease that acts as the visibility timeout, retried
// with exponential backoff after failures, and moved to a dead-letter set once
// MaxAttempts deliveries have been used up. Every state change is a single
// BadgerDB transaction, so concurrent claimers rely on BadgerDB conflict
// detection instead of in-process locks.
type Queue struct {
	db     *badger.DB
	config Config
	now    func() time.Time

	totalEnqueued atomic.Int64
	totalClaimed  atomic.Int64
	totalDone     atomic.Int64
	totalFailed   atomic.Int64
	totalDead     atomic.Int64
	totalReplayed atomic.Int64

	recovery RecoveryResult

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the queue at cfg.Path.
func Open(cfg *Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job queue config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	q := &Queue{
		db:     db,
		config: *cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	q.recovery = q.inspectOnOpen()

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int("max_attempts", cfg.MaxAttempts).
		Dur("visibility_timeout", cfg.VisibilityTimeout).
		Msg("Job queue opened")
	return q, nil
}

// inspectOnOpen logs the work left behind by a previous process. Tasks leased
// by a crashed worker need no action: their lease expires and they are claimed again.
func (q *Queue) inspectOnOpen() RecoveryResult {
	var result RecoveryResult

	err := q.iterate(context.Background(), prefixPending, func(t *Task) bool {
		result.Pending++
		if !t.LeaseExpiry.IsZero() {
			result.ExpiredLeases++
		}
		return true
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Job queue recovery scan failed")
		return result
	}
	_ = q.iterate(context.Background(), prefixDead, func(*Task) bool {
		result.Dead++
		return true
	})

	lsm, vlog := q.db.Size()
	UpdateGauges(int64(result.Pending), int64(result.Dead), lsm+vlog)

	if result.Pending > 0 || result.Dead > 0 {
		logging.Info().
			Int("pending", result.Pending).
			Int("leased_by_previous_run", result.ExpiredLeases).
			Int("dead", result.Dead).
			Msg("Job queue recovered tasks from previous run")
	}
	return result
}

// Recovery returns what the queue found when it was opened.
func (q *Queue) Recovery() RecoveryResult {
	return q.recovery
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.config
}

// Enqueue durably stores a new task. A nil error means the task is on disk
// (fsynced when SyncWrites is set) and will be delivered at least once.
//
// ctx is honored only until the write starts. Badger writes cannot be
// interrupted, and once the task is on disk Enqueue reports success even if
// ctx ended meanwhile: the caller must ack what was stored, or the broker
// would redeliver an event that is already queued.
func (q *Queue) Enqueue(ctx context.Context, nt NewTask) (*Task, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}
	if nt.EventType == "" || nt.EventID == "" {
		return nil, fmt.Errorf("enqueue: event type and event id are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	task := &Task{
		ID:        id.String(),
		EventType: nt.EventType,
		EventID:   nt.EventID,
		Payload:   nt.Payload,
		State:     StatePending,
		CreatedAt: q.now(),
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return writeTask(txn, []byte(prefixPending+task.ID), task)
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w: %w", nt.EventID, ErrUnavailable, err)
	}

	q.totalEnqueued.Add(1)
	RecordEnqueue(nt.EventType, time.Since(start).Seconds())
	return task, nil
}

// Claim leases up to max visible tasks to holder. Each claim counts as a
// delivery attempt. A task whose previous delivery exhausted MaxAttempts
// without reporting back is dead-lettered instead of being returned.
func (q *Queue) Claim(ctx context.Context, holder string, max int) ([]*Task, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}
	if holder == "" {
		return nil, fmt.Errorf("claim: holder is required")
	}
	if max < 1 {
		max = 1
	}

	now := q.now()
	var candidates []string
	err := q.iterate(ctx, prefixPending, func(t *Task) bool {
		if t.claimable(now) {
			candidates = append(candidates, t.ID)
		}
		// over-collect: some candidates are lost to concurrent claimers
		return len(candidates) < max*4
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w: %w", ErrUnavailable, err)
	}

	claimed := make([]*Task, 0, max)
	for _, id := range candidates {
		if len(claimed) == max {
			break
		}
		if err := ctx.Err(); err != nil {
			return claimed, err
		}

		task, err := q.claimOne(id, holder, now)
		if err != nil {
			if len(claimed) > 0 {
				logging.Warn().Err(err).Str("task_id", id).Msg("Job queue claim failed; returning partial batch")
				break
			}
			return nil, fmt.Errorf("claim: %w: %w", ErrUnavailable, err)
		}
		if task != nil {
			claimed = append(claimed, task)
		}
	}

	if len(claimed) > 0 {
		q.totalClaimed.Add(int64(len(claimed)))
		RecordClaimed(len(claimed))
	}
	return claimed, nil
}

func (q *Queue) claimOne(id, holder string, now time.Time) (*Task, error) {
	var (
		claimed      *Task
		deadLettered bool
	)

	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if errors.Is(err, ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !task.claimable(now) {
			return nil
		}

		if task.Attempts >= q.config.MaxAttempts {
			deadLettered = true
			return moveToDead(txn, key, task, ReasonLeaseExpired, now)
		}

		task.Attempts++
		task.LastAttemptAt = now
		task.LeaseHolder = holder
		task.LeaseExpiry = now.Add(q.config.VisibilityTimeout)
		if err := writeTask(txn, key, task); err != nil {
			return err
		}
		claimed = task
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// another claimer won
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if deadLettered {
		q.totalDead.Add(1)
		RecordDeadLettered(ReasonLeaseExpired)
		logging.Warn().
			Str("task_id", id).
			Int("max_attempts", q.config.MaxAttempts).
			Msg("Task dead-lettered: final delivery never reported back")
	}
	return claimed, nil
}

// Complete removes a task from the pending set after successful processing.
// holder must still own the lease: once a lapsed lease has been claimed by
// another worker, the stale report returns ErrLeaseNotHeld and changes nothing.
func (q *Queue) Complete(ctx context.Context, id, holder string) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	now := q.now()
	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if err != nil {
			return err
		}
		if err := task.checkHolder(holder); err != nil {
			return err
		}

		task.State = StateDone
		task.CompletedAt = &now
		task.LeaseExpiry = time.Time{}
		task.LastError = ""
		if err := writeTask(txn, []byte(prefixDone+id), task); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return wrapUpdateErr("complete", id, err)
	}

	q.totalDone.Add(1)
	RecordCompleted()
	return nil
}

// Fail records a failed attempt. The task becomes visible again after the
// backoff for its attempt count, or moves to the dead-letter set when its
// attempts are exhausted. The returned bool reports a dead-letter move.
// Like Complete, it returns ErrLeaseNotHeld when holder lost the lease.
func (q *Queue) Fail(ctx context.Context, id, holder string, cause error) (bool, error) {
	if err := q.checkNotClosed(); err != nil {
		return false, err
	}

	lastError := "unknown error"
	if cause != nil {
		lastError = cause.Error()
	}

	now := q.now()
	var (
		deadLettered bool
		retryAt      time.Time
		attempts     int
	)
	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if err != nil {
			return err
		}
		if err := task.checkHolder(holder); err != nil {
			return err
		}

		task.LastError = lastError
		attempts = task.Attempts
		if task.Attempts >= q.config.MaxAttempts {
			deadLettered = true
			return moveToDead(txn, key, task, ReasonMaxAttempts, now)
		}

		retryAt = now.Add(q.config.Backoff(task.Attempts))
		task.NextAttemptAt = retryAt
		task.LeaseExpiry = time.Time{}
		task.LeaseHolder = ""
		return writeTask(txn, key, task)
	})
	if err != nil {
		return false, wrapUpdateErr("fail", id, err)
	}

	if deadLettered {
		q.totalDead.Add(1)
		RecordDeadLettered(ReasonMaxAttempts)
		logging.Warn().
			Str("task_id", id).
			Int("attempts", attempts).
			Str("last_error", lastError).
			Msg("Task dead-lettered after max attempts")
		return true, nil
	}

	q.totalFailed.Add(1)
	RecordFailed()
	logging.Debug().
		Str("task_id", id).
		Int("attempts", attempts).
		Time("retry_at", retryAt).
		Msg("Task scheduled for retry")
	return false, nil
}

// DeadLetter moves a pending task straight to the dead-letter set, for tasks
// that can never succeed.
func (q *Queue) DeadLetter(ctx context.Context, id, reason string) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonPoison
	}

	now := q.now()
	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if err != nil {
			return err
		}
		return moveToDead(txn, key, task, reason, now)
	})
	if err != nil {
		return wrapUpdateErr("dead-letter", id, err)
	}

	q.totalDead.Add(1)
	RecordDeadLettered(reason)
	return nil
}

// ExtendLease pushes the visibility timeout of a claimed task forward.
func (q *Queue) ExtendLease(ctx context.Context, id, holder string) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	newExpiry := q.now().Add(q.config.VisibilityTimeout)
	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if err != nil {
			return err
		}
		if err := task.checkHolder(holder); err != nil {
			return err
		}
		task.LeaseExpiry = newExpiry
		return writeTask(txn, key, task)
	})
	if err != nil {
		return wrapUpdateErr("extend lease", id, err)
	}
	return nil
}

// Release hands a claimed task back without counting the delivery as an
// attempt. Workers use it when they could not even try the task, such as
// while the store circuit breaker rejects calls. The task is visible again
// immediately.
func (q *Queue) Release(ctx context.Context, id, holder string) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		task, err := readTask(txn, key)
		if err != nil {
			return err
		}
		if err := task.checkHolder(holder); err != nil {
			return err
		}
		if task.Attempts > 0 {
			task.Attempts--
		}
		task.LeaseHolder = ""
		task.LeaseExpiry = time.Time{}
		return writeTask(txn, key, task)
	})
	if err != nil {
		return wrapUpdateErr("release", id, err)
	}
	return nil
}

// Get returns a task in any state.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}

	var task *Task
	err := q.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{prefixPending, prefixDead, prefixDone} {
			t, err := readTask(txn, []byte(prefix+id))
			if errors.Is(err, ErrTaskNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			task = t
			return nil
		}
		return ErrTaskNotFound
	})
	if err != nil {
		return nil, wrapUpdateErr("get", id, err)
	}
	return task, nil
}

// Pending returns all pending tasks, leased or not.
func (q *Queue) Pending(ctx context.Context) ([]*Task, error) {
	return q.list(ctx, prefixPending)
}

// DeadLetters returns all dead-lettered tasks.
func (q *Queue) DeadLetters(ctx context.Context) ([]*Task, error) {
	return q.list(ctx, prefixDead)
}

func (q *Queue) list(ctx context.Context, prefix string) ([]*Task, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}

	var tasks []*Task
	err := q.iterate(ctx, prefix, func(t *Task) bool {
		tasks = append(tasks, t)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return tasks, nil
}

// Replay moves a dead-lettered task back to pending with a fresh attempt budget.
func (q *Queue) Replay(ctx context.Context, id string) (*Task, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}

	var replayed *Task
	err := q.db.Update(func(txn *badger.Txn) error {
		deadKey := []byte(prefixDead + id)
		task, err := readTask(txn, deadKey)
		if err != nil {
			return err
		}

		task.State = StatePending
		task.Attempts = 0
		task.NextAttemptAt = time.Time{}
		task.LeaseExpiry = time.Time{}
		task.LeaseHolder = ""
		task.DeadLetteredAt = nil
		task.DeadLetterReason = ""
		task.Replays++
		if err := writeTask(txn, []byte(prefixPending+id), task); err != nil {
			return err
		}
		replayed = task
		return txn.Delete(deadKey)
	})
	if err != nil {
		return nil, wrapUpdateErr("replay", id, err)
	}

	q.totalReplayed.Add(1)
	RecordReplayed()
	logging.Info().
		Str("task_id", id).
		Str("event_id", replayed.EventID).
		Int("replays", replayed.Replays).
		Msg("Dead-lettered task replayed")
	return replayed, nil
}

// ReplayAll replays every dead-lettered task and returns how many were moved.
func (q *Queue) ReplayAll(ctx context.Context) (int, error) {
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, task := range dead {
		if _, err := q.Replay(ctx, task.ID); err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				continue
			}
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// CleanupCompleted deletes completed tasks older than olderThan.
func (q *Queue) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := q.checkNotClosed(); err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-olderThan)
	var keys [][]byte
	err := q.iterate(ctx, prefixDone, func(t *Task) bool {
		if t.CompletedAt == nil || !t.CompletedAt.After(cutoff) {
			keys = append(keys, []byte(prefixDone+t.ID))
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("collect completed tasks: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return q.deleteBatchedKeys(keys)
}

// RunGC triggers BadgerDB value log garbage collection.
func (q *Queue) RunGC() error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	for {
		err := q.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	if q.checkNotClosed() != nil {
		return Stats{}
	}

	now := q.now()
	stats := Stats{
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalClaimed:  q.totalClaimed.Load(),
		TotalDone:     q.totalDone.Load(),
		TotalFailed:   q.totalFailed.Load(),
		TotalDead:     q.totalDead.Load(),
		TotalReplayed: q.totalReplayed.Load(),
	}

	ctx := context.Background()
	if err := q.iterate(ctx, prefixPending, func(t *Task) bool {
		stats.Pending++
		if t.leased(now) {
			stats.Leased++
		}
		return true
	}); err != nil {
		logging.Warn().Err(err).Msg("Job queue stats failed to count pending tasks")
	}
	stats.Dead = q.countKeys(prefixDead)
	stats.Completed = q.countKeys(prefixDone)

	lsm, vlog := q.db.Size()
	stats.DBSizeBytes = lsm + vlog
	UpdateGauges(stats.Pending, stats.Dead, stats.DBSizeBytes)
	return stats
}

// Ping reports whether the queue is open and its database answers reads.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.db.View(func(*badger.Txn) error { return nil }); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close gracefully shuts down the queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	timeout := q.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	q.mu.Unlock()

	logging.Info().Msg("Closing job queue")

	done := make(chan error, 1)
	go func() {
		done <- q.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Job queue closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("Job queue close timed out")
		return fmt.Errorf("job queue close timeout after %v", timeout)
	}
}

func (q *Queue) checkNotClosed() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// iterate calls fn for every task under prefix until fn returns false.
// Undecodable records are logged and skipped.
func (q *Queue) iterate(ctx context.Context, prefix string, fn func(*Task) bool) error {
	return q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var task Task
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Job queue failed to unmarshal task")
				continue
			}
			if !fn(&task) {
				return nil
			}
		}
		return nil
	})
}

func (q *Queue) countKeys(prefix string) int64 {
	var n int64
	if err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			n++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Str("prefix", prefix).Msg("Job queue failed to count keys")
	}
	return n
}

// deleteBatchedKeys deletes keys in batches to stay under BadgerDB transaction limits.
func (q *Queue) deleteBatchedKeys(keys [][]byte) (int, error) {
	deleted := 0
	const batchSize = 100

	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		batch := keys[i:end]

		err := q.db.Update(func(txn *badger.Txn) error {
			for _, key := range batch {
				if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete batch: %w", err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

func moveToDead(txn *badger.Txn, pendingKey []byte, task *Task, reason string, now time.Time) error {
	task.State = StateDead
	task.DeadLetteredAt = &now
	task.DeadLetterReason = reason
	task.LeaseExpiry = time.Time{}
	task.LeaseHolder = ""
	if err := writeTask(txn, []byte(prefixDead+task.ID), task); err != nil {
		return err
	}
	return txn.Delete(pendingKey)
}

// readTask reads and decodes a task. It returns ErrTaskNotFound for a missing key.
func readTask(txn *badger.Txn, key []byte) (*Task, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task Task
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &task)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

func writeTask(txn *badger.Txn, key []byte, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return txn.Set(key, data)
}

// wrapUpdateErr keeps ErrTaskNotFound and ErrLeaseNotHeld matchable and marks
// storage failures as ErrUnavailable.
func wrapUpdateErr(op, id string, err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrLeaseNotHeld):
		return fmt.Errorf("%s %s: %w", op, id, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", op, id, err)
	default:
		return fmt.Errorf("%s %s: %w: %w", op, id, ErrUnavailable, err)
	}
}
