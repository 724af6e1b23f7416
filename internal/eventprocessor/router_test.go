// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
)

func testRouterConfig() RouterConfig {
	cfg := DefaultRouterConfig()
	cfg.CloseTimeout = 2 * time.Second
	cfg.RetryMaxRetries = 1
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

// startRouter runs r and returns once every handler is subscribed.
func startRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
		<-done
	})

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}

func TestNewRouter_Defaults(t *testing.T) {
	r, err := NewRouter(nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true before Run")
	}
	if len(r.Handlers()) != 0 {
		t.Errorf("Handlers() = %v, want none", r.Handlers())
	}
}

func TestNewRouter_WithThrottle(t *testing.T) {
	cfg := testRouterConfig()
	cfg.ThrottlePerSecond = 100
	if _, err := NewRouter(&cfg, nil, nil); err != nil {
		t.Fatalf("NewRouter with throttle: %v", err)
	}
}

func TestRouter_AckOnSuccess(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := testRouterConfig()
	r, err := NewRouter(&cfg, pubSub, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	handled := make(chan string, 1)
	r.AddConsumerHandler("ok", "chat_created", pubSub, func(msg *message.Message) error {
		handled <- string(msg.Payload)
		return nil
	})
	startRouter(t, r)

	if !r.IsRunning() {
		t.Error("IsRunning() = false after start")
	}
	if err := pubSub.Publish("chat_created", message.NewMessage(watermill.NewUUID(), []byte("hello"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-handled:
		if got != "hello" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestRouter_PermanentErrorGoesToPoisonTopic(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	poisoned, err := pubSub.Subscribe(context.Background(), PoisonTopic)
	if err != nil {
		t.Fatalf("Subscribe poison: %v", err)
	}

	cfg := testRouterConfig()
	r, err := NewRouter(&cfg, pubSub, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	var calls atomic.Int32
	r.AddConsumerHandler("bad", "message_created", pubSub, func(msg *message.Message) error {
		calls.Add(1)
		return NewPermanentError("decode message_created", errors.New("invalid json"))
	})
	startRouter(t, r)

	msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	msg.Metadata.Set(natsgo.MsgIdHdr, "abc")
	msg.Metadata.Set("event_type", "message_created")
	if err := pubSub.Publish("message_created", msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case p := <-poisoned:
		p.Ack()
		if string(p.Payload) != "{not json" {
			t.Errorf("poison payload = %q", p.Payload)
		}
		if reason := p.Metadata.Get(middleware.ReasonForPoisonedKey); reason == "" {
			t.Error("poisoned message missing reason metadata")
		}
		if id := p.Metadata.Get(natsgo.MsgIdHdr); id != PoisonTopic+":abc" {
			t.Errorf("poison Nats-Msg-Id = %q, want rewritten id", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the poison topic")
	}

	// Permanent errors are not retried.
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
}

func TestRouter_TransientErrorIsRedelivered(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := testRouterConfig()
	cfg.RetryMaxRetries = 0
	r, err := NewRouter(&cfg, pubSub, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	var calls atomic.Int32
	done := make(chan struct{})
	r.AddConsumerHandler("flaky", "chat_created", pubSub, func(msg *message.Message) error {
		n := calls.Add(1)
		if n < 3 {
			return NewRetryableError("enqueue", ErrorCategoryQueue, errors.New("queue unavailable"))
		}
		close(done)
		return nil
	})
	startRouter(t, r)

	if err := pubSub.Publish("chat_created", message.NewMessage(watermill.NewUUID(), []byte("x"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("message not redelivered, calls = %d", calls.Load())
	}
}

func TestRouter_PermanentErrorWithoutPoisonPublisherIsAcked(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := testRouterConfig()
	r, err := NewRouter(&cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	var calls atomic.Int32
	r.AddConsumerHandler("bad", "chat_created", pubSub, func(msg *message.Message) error {
		calls.Add(1)
		return NewPermanentError("decode", errors.New("bad"))
	})
	startRouter(t, r)

	if err := pubSub.Publish("chat_created", message.NewMessage(watermill.NewUUID(), []byte("x"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want exactly 1", got)
	}
}

func TestPoisonMsgID(t *testing.T) {
	withHeader := message.NewMessage("uuid-1", nil)
	withHeader.Metadata.Set(natsgo.MsgIdHdr, "message_created:7:3")

	// Messages read back from JetStream carry no Nats-Msg-Id metadata.
	received := message.NewMessage("uuid-2", nil)

	tests := []struct {
		name string
		msg  *message.Message
		want string
	}{
		{"existing id is scoped to the topic", withHeader, PoisonTopic + ":message_created:7:3"},
		{"falls back to the message uuid", received, PoisonTopic + ":uuid-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := poisonMsgID(PoisonTopic, tt.msg); got != tt.want {
				t.Errorf("poisonMsgID() = %q, want %q", got, tt.want)
			}
		})
	}
}
