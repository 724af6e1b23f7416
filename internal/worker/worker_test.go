// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/store"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.TaskTimeout = 5 * time.Second
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.Timeout = time.Minute
	return cfg
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{
		Path:        filepath.Join(t.TempDir(), "counters.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	cfg := jobqueue.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue")
	cfg.SyncWrites = false
	cfg.MaxAttempts = 50
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	q, err := jobqueue.Open(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueueEvent(t *testing.T, q *jobqueue.Queue, e events.Event) *jobqueue.Task {
	t.Helper()
	payload, err := events.Encode(e)
	require.NoError(t, err)
	task, err := q.Enqueue(context.Background(), jobqueue.NewTask{
		EventType: e.Type().String(),
		EventID:   e.ID(),
		Payload:   payload,
	})
	require.NoError(t, err)
	return task
}

// drain claims and processes until the queue has nothing visible.
func drain(t *testing.T, p *Pool, q *jobqueue.Queue) {
	t.Helper()
	ctx := context.Background()
	for {
		tasks, err := q.Claim(ctx, "test", 10)
		require.NoError(t, err)
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			require.NoError(t, p.ProcessTask(ctx, task))
		}
	}
}

func taskFor(t *testing.T, e events.Event) *jobqueue.Task {
	t.Helper()
	payload, err := events.Encode(e)
	require.NoError(t, err)
	return &jobqueue.Task{ID: "t-" + e.ID(), EventType: e.Type().String(), EventID: e.ID(), Payload: payload}
}

func TestIncrementFor(t *testing.T) {
	t.Run("chat created targets application by token", func(t *testing.T) {
		inc, err := IncrementFor(taskFor(t, events.NewChatCreated("abc", 1, 1)))
		require.NoError(t, err)
		assert.Equal(t, store.ApplicationChats, inc.Counter)
		assert.Equal(t, store.TokenKey("abc"), inc.Key)
		assert.Equal(t, "chat_created:abc:1", inc.EventID)
		assert.Equal(t, "chat_created", inc.EventType)
	})

	t.Run("message created targets chat by id", func(t *testing.T) {
		inc, err := IncrementFor(taskFor(t, events.NewMessageCreated(9, 90, 4)))
		require.NoError(t, err)
		assert.Equal(t, store.ChatMessages, inc.Counter)
		assert.Equal(t, store.IDKey(9), inc.Key)
		assert.Equal(t, "message_created:9:4", inc.EventID)
	})

	tests := []struct {
		name string
		task *jobqueue.Task
	}{
		{"unknown type", &jobqueue.Task{EventType: "chat_deleted", EventID: "x", Payload: []byte(`{}`)}},
		{"bad payload", &jobqueue.Task{EventType: "chat_created", EventID: "x", Payload: []byte(`{`)}},
		{"mismatched id", &jobqueue.Task{
			EventType: "message_created",
			EventID:   "message_created:1:2",
			Payload:   []byte(`{"chat_id":1,"message_id":5,"message_number":3}`),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IncrementFor(tt.task)
			assert.ErrorIs(t, err, ErrInvalidTask)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	good := DefaultConfig()
	require.NoError(t, good.Validate())

	mutations := map[string]func(*Config){
		"no workers":    func(c *Config) { c.Workers = 0 },
		"no batch":      func(c *Config) { c.ClaimBatch = 0 },
		"no poll":       func(c *Config) { c.PollInterval = 0 },
		"negative rate": func(c *Config) { c.ClaimRate = -1 },
		"no timeout":    func(c *Config) { c.TaskTimeout = 0 },
		"no threshold":  func(c *Config) { c.Breaker.FailureThreshold = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(nil, nil, DefaultConfig())
	assert.Error(t, err)
}

// Scenario A: three deliveries of one chat_created increment once.
func TestProcessTask_DuplicateDeliveriesCountOnce(t *testing.T) {
	st := openStore(t)
	q := openQueue(t)
	ctx := context.Background()

	_, err := st.CreateApplication(ctx, "abc", "demo")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		enqueueEvent(t, q, events.NewChatCreated("abc", 1, 1))
	}

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)
	drain(t, p, q)

	app, err := st.GetApplication(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), app.ChatsCount)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(2), stats.Duplicates)

	qs := q.Stats()
	assert.Equal(t, int64(0), qs.Pending)
}

// Scenario B: distinct concurrent events for one chat both apply.
func TestPool_ConcurrentDistinctEvents(t *testing.T) {
	st := openStore(t)
	q := openQueue(t)
	ctx := context.Background()

	_, err := st.CreateApplication(ctx, "abc", "demo")
	require.NoError(t, err)
	chat, err := st.CreateChat(ctx, "abc", 1)
	require.NoError(t, err)

	const n = 40
	for i := 1; i <= n; i++ {
		e := events.NewMessageCreated(chat.ID, int64(100+i), int64(i))
		enqueueEvent(t, q, e)
		if i%3 == 0 {
			enqueueEvent(t, q, e)
		}
	}

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Eventually(t, func() bool {
		c, err := st.GetChat(ctx, chat.ID)
		return err == nil && c.MessagesCount == n && q.Stats().Pending == 0
	}, 10*time.Second, 10*time.Millisecond)

	for i := 1; i <= n; i++ {
		ok, err := st.LedgerEntryExists(ctx, events.MessageCreatedID(chat.ID, int64(i)))
		require.NoError(t, err)
		assert.True(t, ok, "ledger entry %d missing", i)
	}
}

// Scenario C: missing target fails without a ledger entry, then applies once.
func TestPool_MissingTargetRetriesUntilVisible(t *testing.T) {
	st := openStore(t)
	q := openQueue(t)
	ctx := context.Background()

	_, err := st.CreateApplication(ctx, "abc", "demo")
	require.NoError(t, err)

	// The first chat row will get id 1.
	e := events.NewMessageCreated(1, 10, 1)
	enqueueEvent(t, q, e)

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Eventually(t, func() bool { return p.Stats().NotFound >= 2 }, 5*time.Second, 5*time.Millisecond)

	exists, err := st.LedgerEntryExists(ctx, e.ID())
	require.NoError(t, err)
	assert.False(t, exists, "NotFound must not leave a ledger entry")

	chat, err := st.CreateChat(ctx, "abc", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), chat.ID)

	require.Eventually(t, func() bool {
		c, err := st.GetChat(ctx, 1)
		return err == nil && c.MessagesCount == 1
	}, 5*time.Second, 5*time.Millisecond)

	// Nothing else arrives for the chat; the count stays at one.
	time.Sleep(50 * time.Millisecond)
	c, err := st.GetChat(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.MessagesCount)
	assert.Equal(t, int64(1), p.Stats().Applied)
}

func TestProcessTask_InvalidTaskIsDeadLettered(t *testing.T) {
	st := openStore(t)
	q := openQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobqueue.NewTask{
		EventType: "chat_created",
		EventID:   "chat_created:abc:1",
		Payload:   []byte(`{"application_token":""}`),
	})
	require.NoError(t, err)

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)
	drain(t, p, q)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobqueue.ReasonPoison, dead[0].DeadLetterReason)
	assert.Equal(t, int64(1), p.Stats().Invalid)
}

func TestProcessTask_DeadLettersAfterMaxAttempts(t *testing.T) {
	st := openStore(t)

	cfg := jobqueue.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue")
	cfg.SyncWrites = false
	cfg.MaxAttempts = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = time.Millisecond
	q, err := jobqueue.Open(&cfg)
	require.NoError(t, err)
	defer q.Close()

	enqueueEvent(t, q, events.NewChatCreated("ghost", 1, 1))

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		tasks, err := q.Claim(ctx, "test", 1)
		require.NoError(t, err)
		for _, task := range tasks {
			require.NoError(t, p.ProcessTask(ctx, task))
		}
		return q.Stats().Dead == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), p.Stats().DeadLettered)
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobqueue.ReasonMaxAttempts, dead[0].DeadLetterReason)
}

// fakeQueue and fakeStore isolate the pool from real storage.
type fakeQueue struct {
	mu        sync.Mutex
	claims    atomic.Int64
	tasks     []*jobqueue.Task
	completed []string
	failed    []string
	released  []string
	reportErr error
}

func (f *fakeQueue) Claim(ctx context.Context, holder string, max int) ([]*jobqueue.Task, error) {
	f.claims.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return nil, nil
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return []*jobqueue.Task{task}, nil
}

func (f *fakeQueue) Complete(ctx context.Context, id, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return f.reportErr
	}
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, id, holder string, cause error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return false, f.reportErr
	}
	f.failed = append(f.failed, id)
	return false, nil
}

func (f *fakeQueue) Release(ctx context.Context, id, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *fakeQueue) DeadLetter(ctx context.Context, id, reason string) error {
	return nil
}

func (f *fakeQueue) counts() (completed, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed), len(f.failed)
}

type fakeStore struct {
	err error
}

func (f *fakeStore) Apply(ctx context.Context, inc store.Increment) (store.Outcome, error) {
	if f.err != nil {
		return 0, f.err
	}
	return store.OutcomeApplied, nil
}

func TestProcessTask_StoreUnavailableOpensBreaker(t *testing.T) {
	q := &fakeQueue{}
	st := &fakeStore{err: fmt.Errorf("apply: %w: database is locked", store.ErrUnavailable)}

	cfg := testConfig()
	p, err := NewPool(q, st, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= int(cfg.Breaker.FailureThreshold); i++ {
		require.NoError(t, p.ProcessTask(ctx, taskFor(t, events.NewChatCreated("abc", 1, int64(i)))))
	}
	_, failed := q.counts()
	assert.Equal(t, int(cfg.Breaker.FailureThreshold), failed)
	assert.Equal(t, gobreaker.StateOpen.String(), p.Stats().BreakerState)

	// While open, the breaker rejects without touching the store. The task is
	// released rather than failed, so the outage spends no attempt.
	rejected := taskFor(t, events.NewChatCreated("abc", 1, 99))
	require.NoError(t, p.ProcessTask(ctx, rejected))
	_, failed = q.counts()
	assert.Equal(t, int(cfg.Breaker.FailureThreshold), failed)
	assert.Equal(t, []string{rejected.ID}, q.released)
	assert.Equal(t, int64(cfg.Breaker.FailureThreshold), p.Stats().Unavailable)
	assert.Equal(t, int64(1), p.Stats().Rejected)
}

func TestProcessTask_BreakerRejectionKeepsAttempts(t *testing.T) {
	st := &fakeStore{err: fmt.Errorf("apply: %w: database is locked", store.ErrUnavailable)}
	q := openQueue(t)

	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	p, err := NewPool(q, st, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.ProcessTask(ctx, taskFor(t, events.NewChatCreated("abc", 1, 1))))
	require.Equal(t, gobreaker.StateOpen.String(), p.Stats().BreakerState)

	enqueued := enqueueEvent(t, q, events.NewChatCreated("abc", 1, 2))
	for i := 0; i < 3; i++ {
		tasks, err := q.Claim(ctx, "w", 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 1, tasks[0].Attempts, "rejected deliveries must not count")
		require.NoError(t, p.ProcessTask(ctx, tasks[0]))
	}

	task, err := q.Get(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatePending, task.State)
	assert.Empty(t, task.LeaseHolder)
	assert.Equal(t, int64(3), p.Stats().Rejected)
}

func TestProcessTask_StaleReportIsDropped(t *testing.T) {
	q := &fakeQueue{reportErr: fmt.Errorf("fail t-1: %w: held by \"worker-b\"", jobqueue.ErrLeaseNotHeld)}
	st := &fakeStore{err: store.ErrNotFound}

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.ProcessTask(ctx, taskFor(t, events.NewChatCreated("abc", 1, 1))))

	st.err = nil
	require.NoError(t, p.ProcessTask(ctx, taskFor(t, events.NewChatCreated("abc", 1, 2))))

	assert.Equal(t, int64(2), p.Stats().StaleReports)
	assert.Zero(t, p.Stats().DeadLettered)
}

func TestProcessTask_LapsedWorkerCannotDeadLetterLiveTask(t *testing.T) {
	st := openStore(t)

	cfg := jobqueue.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue")
	cfg.SyncWrites = false
	cfg.MaxAttempts = 2
	cfg.VisibilityTimeout = time.Second
	q, err := jobqueue.Open(&cfg)
	require.NoError(t, err)
	defer q.Close()

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	enqueueEvent(t, q, events.NewChatCreated("late-app", 1, 1))

	stale, err := q.Claim(ctx, "slot-a", 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	time.Sleep(cfg.VisibilityTimeout + 200*time.Millisecond)

	live, err := q.Claim(ctx, "slot-b", 1)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, cfg.MaxAttempts, live[0].Attempts)

	// slot-a finally reports a missing target on the final attempt. Its lease
	// was taken over, so the report is dropped instead of dead-lettering.
	require.NoError(t, p.ProcessTask(ctx, stale[0]))
	assert.Equal(t, int64(1), p.Stats().StaleReports)
	assert.Zero(t, p.Stats().DeadLettered)

	_, err = st.CreateApplication(ctx, "late-app", "late")
	require.NoError(t, err)
	require.NoError(t, p.ProcessTask(ctx, live[0]))

	app, err := st.GetApplication(ctx, "late-app")
	require.NoError(t, err)
	assert.Equal(t, int64(1), app.ChatsCount)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
	assert.Equal(t, int64(1), q.Stats().TotalDone)
}

func TestPool_OpenBreakerStopsClaims(t *testing.T) {
	q := &fakeQueue{}
	st := &fakeStore{err: store.ErrUnavailable}

	cfg := testConfig()
	cfg.Workers = 1
	cfg.Breaker.FailureThreshold = 1
	p, err := NewPool(q, st, cfg)
	require.NoError(t, err)

	q.tasks = []*jobqueue.Task{taskFor(t, events.NewChatCreated("abc", 1, 1))}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool {
		return p.Stats().BreakerState == gobreaker.StateOpen.String()
	}, 5*time.Second, time.Millisecond)

	before := q.claims.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, q.claims.Load(), "no claims while the breaker is open")

	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestProcessTask_NotFoundDoesNotTripBreaker(t *testing.T) {
	q := &fakeQueue{}
	st := &fakeStore{err: fmt.Errorf("increment: %w", store.ErrNotFound)}

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		require.NoError(t, p.ProcessTask(context.Background(), taskFor(t, events.NewChatCreated("abc", 1, int64(i)))))
	}
	assert.Equal(t, gobreaker.StateClosed.String(), p.Stats().BreakerState)
	assert.Equal(t, int64(10), p.Stats().NotFound)
}

func TestProcessTask_CanceledIsNotReported(t *testing.T) {
	q := &fakeQueue{}
	st := &fakeStore{err: context.Canceled}

	p, err := NewPool(q, st, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.ProcessTask(ctx, taskFor(t, events.NewChatCreated("abc", 1, 1))))

	completed, failed := q.counts()
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}

func TestPool_StartStop(t *testing.T) {
	q := &fakeQueue{}
	p, err := NewPool(q, &fakeStore{}, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(ctx), "second Start must fail")

	p.Stop()
	p.Stop()
	assert.False(t, p.IsRunning())

	require.NoError(t, p.Start(ctx), "pool can restart after Stop")
	p.Stop()
}

func TestPool_Serve(t *testing.T) {
	q := &fakeQueue{tasks: []*jobqueue.Task{taskFor(t, events.NewChatCreated("abc", 1, 1))}}
	p, err := NewPool(q, &fakeStore{}, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Serve(ctx) }()

	require.Eventually(t, func() bool {
		completed, _ := q.counts()
		return completed == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
