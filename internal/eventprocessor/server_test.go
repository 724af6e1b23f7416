// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/chatcounter/internal/events"
)

// startTestServer runs an embedded JetStream server on a random port with
// the counter stream provisioned.
func startTestServer(t *testing.T) *EmbeddedServer {
	t.Helper()

	cfg := DefaultServerConfig()
	cfg.Port = server.RANDOM_PORT
	cfg.StoreDir = t.TempDir()

	srv, err := NewEmbeddedServer(&cfg)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	nc, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New: %v", err)
	}
	streamCfg := DefaultStreamConfig()
	init, err := NewStreamInitializer(js, &streamCfg)
	if err != nil {
		t.Fatalf("NewStreamInitializer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := init.EnsureStream(ctx); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	return srv
}

func TestNewEmbeddedServer_Validation(t *testing.T) {
	if _, err := NewEmbeddedServer(nil); err == nil {
		t.Error("expected error for nil config")
	}
	cfg := DefaultServerConfig()
	cfg.StoreDir = ""
	if _, err := NewEmbeddedServer(&cfg); err == nil {
		t.Error("expected error for empty store dir")
	}
}

func TestEmbeddedServer_PublishSubscribeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv := startTestServer(t)
	if !srv.IsRunning() || !srv.JetStreamEnabled() {
		t.Fatal("embedded server not running with JetStream")
	}

	pub, err := NewPublisher(DefaultPublisherConfig(srv.ClientURL()), nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	subCfg := DefaultSubscriberConfig(srv.ClientURL()).ForEventType(events.TypeChatCreated.String())
	subCfg.SubscribersCount = 1
	subCfg.AckWaitTimeout = 2 * time.Second
	sub, err := NewSubscriber(&subCfg, nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	routerCfg := testRouterConfig()
	r, err := NewRouter(&routerCfg, pub.WatermillPublisher(), nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	received := make(chan string, 10)
	r.AddConsumerHandler("chat_created", events.TypeChatCreated.String(), sub, func(msg *message.Message) error {
		e, err := events.Decode(events.TypeChatCreated, msg.Payload)
		if err != nil {
			return NewPermanentError("decode", err)
		}
		received <- e.ID()
		return nil
	})
	startRouter(t, r)

	e := events.NewChatCreated("app-token", 1, 1)
	ctx := context.Background()
	if err := pub.PublishEvent(ctx, e); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	// Same event ID inside the duplicate window is dropped by the broker.
	if err := pub.PublishEvent(ctx, e); err != nil {
		t.Fatalf("PublishEvent duplicate: %v", err)
	}

	select {
	case id := <-received:
		if id != e.ID() {
			t.Errorf("received %q, want %q", id, e.ID())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case id := <-received:
		t.Errorf("duplicate delivered: %q", id)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEmbeddedServer_PoisonedMessageReachesStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv := startTestServer(t)

	pub, err := NewPublisher(DefaultPublisherConfig(srv.ClientURL()), nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	subCfg := DefaultSubscriberConfig(srv.ClientURL()).ForEventType(events.TypeMessageCreated.String())
	subCfg.SubscribersCount = 1
	subCfg.AckWaitTimeout = 2 * time.Second
	sub, err := NewSubscriber(&subCfg, nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	routerCfg := testRouterConfig()
	r, err := NewRouter(&routerCfg, pub.WatermillPublisher(), nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	r.AddConsumerHandler("message_created", events.TypeMessageCreated.String(), sub, func(msg *message.Message) error {
		_, err := events.Decode(events.TypeMessageCreated, msg.Payload)
		return NewPermanentError("decode", err)
	})
	startRouter(t, r)

	payload := []byte(`{"chat_id":`)
	ctx := context.Background()
	if err := pub.PublishRaw(ctx, events.TypeMessageCreated, payload); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}

	nc, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New: %v", err)
	}
	stream, err := js.Stream(ctx, DefaultStreamConfig().Name)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var poisoned *jetstream.RawStreamMsg
	deadline := time.Now().Add(10 * time.Second)
	for poisoned == nil {
		poisoned, err = stream.GetLastMsgForSubject(ctx, PoisonTopic)
		if err != nil {
			if time.Now().After(deadline) {
				t.Fatalf("poisoned message never reached %s: %v", PoisonTopic, err)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	if string(poisoned.Data) != string(payload) {
		t.Errorf("poison payload = %q, want %q", poisoned.Data, payload)
	}
	if poisoned.Header.Get(middleware.ReasonForPoisonedKey) == "" {
		t.Error("poisoned message missing reason header")
	}
	if got := poisoned.Header.Get(natsgo.MsgIdHdr); !strings.HasPrefix(got, PoisonTopic+":") {
		t.Errorf("poison Nats-Msg-Id = %q, want %s prefix", got, PoisonTopic)
	}
}
