// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/chatcounter/internal/events"
)

type failingPublisher struct{ err error }

func (f *failingPublisher) Publish(string, ...*message.Message) error { return f.err }
func (f *failingPublisher) Close() error                              { return nil }

func receiveOne(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestWrapPublisher_Nil(t *testing.T) {
	if _, err := WrapPublisher(nil, nil); !errors.Is(err, ErrNilPublisher) {
		t.Errorf("err = %v, want ErrNilPublisher", err)
	}
}

func TestPublisher_PublishEventUsesEventID(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	ch, err := pubSub.Subscribe(context.Background(), "message_created")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub, err := WrapPublisher(pubSub, nil)
	if err != nil {
		t.Fatalf("WrapPublisher: %v", err)
	}

	e := events.NewMessageCreated(7, 70, 3)
	if err := pub.PublishEvent(context.Background(), e); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	msg := receiveOne(t, ch)
	if got := msg.Metadata.Get(natsgo.MsgIdHdr); got != e.ID() {
		t.Errorf("Nats-Msg-Id = %q, want %q", got, e.ID())
	}
	if got := msg.Metadata.Get("event_type"); got != "message_created" {
		t.Errorf("event_type = %q", got)
	}

	decoded, err := events.Decode(events.TypeMessageCreated, msg.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ID() != e.ID() {
		t.Errorf("decoded ID = %q, want %q", decoded.ID(), e.ID())
	}
}

func TestPublisher_PublishSetsDefaultMsgID(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	ch, _ := pubSub.Subscribe(context.Background(), "chat_created")
	pub, _ := WrapPublisher(pubSub, nil)

	if err := pub.PublishRaw(context.Background(), events.TypeChatCreated, []byte("garbage")); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}

	msg := receiveOne(t, ch)
	if got := msg.Metadata.Get(natsgo.MsgIdHdr); got != msg.UUID {
		t.Errorf("Nats-Msg-Id = %q, want message UUID %q", got, msg.UUID)
	}
}

func TestPublisher_Closed(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	pub, _ := WrapPublisher(pubSub, nil)

	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err := pub.PublishEvent(context.Background(), events.NewChatCreated("tok", 1, 1))
	if !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("err = %v, want ErrPublisherClosed", err)
	}
}

func TestPublisher_CircuitBreakerOpens(t *testing.T) {
	boom := errors.New("broker down")
	pub, _ := WrapPublisher(&failingPublisher{err: boom}, nil)

	cfg := DefaultCircuitBreakerConfig("test-publisher")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	cb := NewCircuitBreaker(cfg, nil)
	pub.SetCircuitBreaker(cb)

	for i := 0; i < 2; i++ {
		err := pub.PublishEvent(context.Background(), events.NewChatCreated("tok", 1, int64(i+1)))
		if !errors.Is(err, boom) {
			t.Fatalf("publish %d: err = %v, want boom", i, err)
		}
	}

	if CircuitBreakerState(cb) != gobreaker.StateOpen.String() {
		t.Fatalf("breaker state = %s, want open", CircuitBreakerState(cb))
	}

	err := pub.PublishEvent(context.Background(), events.NewChatCreated("tok", 1, 3))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
}
