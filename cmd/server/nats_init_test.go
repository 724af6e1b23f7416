// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/chatcounter/internal/config"
	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/store"
	"github.com/tomtom215/chatcounter/internal/supervisor"
	"github.com/tomtom215/chatcounter/internal/supervisor/services"
	"github.com/tomtom215/chatcounter/internal/worker"
)

// testConfig loads a config whose state lives in a temp dir and whose
// embedded NATS server listens on a random port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	yaml := fmt.Sprintf(`
nats:
  store_dir: %s
router:
  retry_count: 1
  retry_initial_interval: 10ms
queue:
  path: %s
  sync_writes: false
  backoff_base: 20ms
  backoff_max: 100ms
store:
  path: %s
worker:
  count: 2
  poll_interval: 20ms
admin:
  enabled: false
audit:
  enabled: false
`, filepath.Join(dir, "jetstream"), filepath.Join(dir, "queue"), filepath.Join(dir, "counters.db"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.NATS.Port = server.RANDOM_PORT
	return cfg
}

func initTestNATS(t *testing.T, cfg *config.Config) *NATSComponents {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	components, err := InitNATS(ctx, cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		components.Shutdown(shutdownCtx)
	})
	return components
}

func TestNATSComponents_Shutdown(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		var c *NATSComponents
		// Should not panic
		c.Shutdown(context.Background())
	})

	t.Run("partially initialized", func(t *testing.T) {
		c := &NATSComponents{}
		c.Shutdown(context.Background())
	})
}

func TestNATSComponents_HealthCheck(t *testing.T) {
	var nilComponents *NATSComponents
	if err := nilComponents.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on nil components should fail")
	}

	cfg := testConfig(t)
	components := initTestNATS(t, cfg)

	if components.URL() == "" {
		t.Error("URL() should be set for the embedded server")
	}
	if components.Publisher() == nil {
		t.Fatal("Publisher() should not be nil")
	}
	if err := components.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	components.Shutdown(context.Background())
	if err := components.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Shutdown should fail")
	}
}

func TestNATSComponents_RouterBuilder(t *testing.T) {
	cfg := testConfig(t)
	components := initTestNATS(t, cfg)

	queueCfg := cfg.QueueOptions()
	queue, err := jobqueue.Open(&queueCfg)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })

	router, closers, err := components.RouterBuilder(queue)()
	if err != nil {
		t.Fatalf("RouterBuilder(): %v", err)
	}
	if router == nil {
		t.Fatal("router should not be nil")
	}
	if len(closers) != len(events.Types()) {
		t.Errorf("closers = %d, want one subscriber per event type (%d)", len(closers), len(events.Types()))
	}
	for _, c := range closers {
		_ = c.Close()
	}
}

// TestPipeline_EndToEnd runs the full path: publish to NATS, consume into the
// job queue, apply in the worker pool, and read the counters back.
func TestPipeline_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end pipeline test in short mode")
	}

	cfg := testConfig(t)
	components := initTestNATS(t, cfg)

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	queueCfg := cfg.QueueOptions()
	queue, err := jobqueue.Open(&queueCfg)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })

	pool, err := worker.NewPool(queue, st, cfg.WorkerOptions())
	if err != nil {
		t.Fatalf("worker.NewPool: %v", err)
	}

	ctx := context.Background()
	app, err := st.CreateApplication(ctx, "app-e2e", "e2e")
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	chat, err := st.CreateChat(ctx, app.Token, 1)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.FailureBackoff = 100 * time.Millisecond
	treeCfg.ShutdownTimeout = 10 * time.Second
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	tree.AddPipelineService(pool)
	tree.AddPipelineService(services.NewRouterService(components.RouterBuilder(queue)))

	runCtx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(runCtx)
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	pub := components.Publisher()
	publish := func(e events.Event) {
		t.Helper()
		if err := pub.PublishEvent(ctx, e); err != nil {
			t.Fatalf("PublishEvent(%s): %v", e.ID(), err)
		}
	}

	publish(events.NewChatCreated(app.Token, chat.ID, chat.Number))
	var second *store.Message
	for n := int64(1); n <= 3; n++ {
		msg, err := st.CreateMessage(ctx, chat.ID, n, "hello")
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if n == 2 {
			second = msg
		}
		publish(events.NewMessageCreated(chat.ID, msg.ID, msg.Number))
	}
	// Republished duplicates must not move the counters.
	publish(events.NewChatCreated(app.Token, chat.ID, chat.Number))
	publish(events.NewMessageCreated(chat.ID, second.ID, second.Number))
	// Undecodable payloads are poisoned, never retried.
	poisonPayload := []byte(`{"chat_id":`)
	if err := pub.PublishRaw(ctx, events.TypeMessageCreated, poisonPayload); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}

	deadline := time.Now().Add(20 * time.Second)
	for {
		gotApp, err := st.GetApplication(ctx, app.Token)
		if err != nil {
			t.Fatalf("GetApplication: %v", err)
		}
		gotChat, err := st.GetChat(ctx, chat.ID)
		if err != nil {
			t.Fatalf("GetChat: %v", err)
		}
		if gotApp.ChatsCount == 1 && gotChat.MessagesCount == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("counters not converged: chats_count=%d messages_count=%d",
				gotApp.ChatsCount, gotChat.MessagesCount)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Give any in-flight duplicates time to land, then verify nothing moved.
	time.Sleep(500 * time.Millisecond)
	gotApp, _ := st.GetApplication(ctx, app.Token)
	gotChat, _ := st.GetChat(ctx, chat.ID)
	if gotApp.ChatsCount != 1 || gotChat.MessagesCount != 3 {
		t.Errorf("duplicates changed counters: chats_count=%d messages_count=%d",
			gotApp.ChatsCount, gotChat.MessagesCount)
	}

	report, err := st.Drift(ctx)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if len(report.Drifts) != 0 {
		t.Errorf("Drift() = %+v, want none", report.Drifts)
	}

	poisoned := lastPoisonedMessage(t, components)
	if string(poisoned.Data) != string(poisonPayload) {
		t.Errorf("poison payload = %q, want %q", poisoned.Data, poisonPayload)
	}
	if poisoned.Header.Get(middleware.ReasonForPoisonedKey) == "" {
		t.Error("poisoned message missing reason header")
	}
}

// lastPoisonedMessage waits for the poison subject of the counter stream to
// hold a message and returns the latest one.
func lastPoisonedMessage(t *testing.T, components *NATSComponents) *jetstream.RawStreamMsg {
	t.Helper()

	js, err := jetstream.New(components.natsConn)
	if err != nil {
		t.Fatalf("jetstream.New: %v", err)
	}
	ctx := context.Background()
	stream, err := js.Stream(ctx, components.cfg.NATS.StreamName)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		msg, err := stream.GetLastMsgForSubject(ctx, components.cfg.Router.PoisonQueueTopic)
		if err == nil {
			return msg
		}
		if time.Now().After(deadline) {
			t.Fatalf("no message on %s: %v", components.cfg.Router.PoisonQueueTopic, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
