// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package consumer turns broker messages into durable job queue tasks.
//
// A Handler owns exactly one event type. It decodes the payload, derives the
// event ID and enqueues {event_type, event_id, payload}. The error it returns
// drives the router's ack discipline: nil acks after the task is durable, a
// permanent error acks and poisons an undecodable message, and a retryable
// error leaves the message unacked so the broker redelivers it. Handlers never
// touch the entity store.
package consumer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/chatcounter/internal/eventprocessor"
	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/metrics"
)

// Enqueuer durably accepts tasks. *jobqueue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, nt jobqueue.NewTask) (*jobqueue.Task, error)
}

// Handler consumes one event type.
type Handler struct {
	eventType events.Type
	queue     Enqueuer
}

// NewHandler creates a consumer for eventType.
func NewHandler(eventType events.Type, queue Enqueuer) (*Handler, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("consumer: unknown event type %q", eventType)
	}
	if queue == nil {
		return nil, fmt.Errorf("consumer: enqueuer required")
	}
	return &Handler{eventType: eventType, queue: queue}, nil
}

// EventType returns the event type this handler consumes.
func (h *Handler) EventType() events.Type {
	return h.eventType
}

// Name returns the router handler name.
func (h *Handler) Name() string {
	return "consumer." + h.eventType.String()
}

// Handle processes one broker message. It matches message.NoPublishHandlerFunc.
func (h *Handler) Handle(msg *message.Message) error {
	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.ContextWithCorrelationID(ctx, msg.UUID)

	ev, err := events.Decode(h.eventType, msg.Payload)
	if err != nil {
		metrics.RecordConsumed(h.eventType.String(), metrics.OutcomePoisoned)
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("event_type", h.eventType.String()).
			Int("payload_bytes", len(msg.Payload)).
			Msg("Undecodable event routed to poison topic")
		msg.Metadata.Set("event_type", h.eventType.String())
		return eventprocessor.NewPermanentError("decode "+h.eventType.String(), err)
	}

	ctx = logging.ContextWithEventID(ctx, ev.ID())

	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)

	task, err := h.queue.Enqueue(ctx, jobqueue.NewTask{
		EventType: h.eventType.String(),
		EventID:   ev.ID(),
		Payload:   payload,
	})
	if err != nil {
		metrics.RecordConsumed(h.eventType.String(), metrics.OutcomeUnavailable)
		logging.Ctx(ctx).Warn().Err(err).Msg("Enqueue failed, leaving message unacked for redelivery")
		return eventprocessor.NewRetryableError("enqueue "+ev.ID(), eventprocessor.ErrorCategoryQueue, err)
	}

	metrics.RecordConsumed(h.eventType.String(), metrics.OutcomeEnqueued)
	logging.Ctx(logging.ContextWithTaskID(ctx, task.ID)).Debug().Msg("Event enqueued")
	return nil
}

// Router is the part of *eventprocessor.Router used for registration.
type Router interface {
	AddConsumerHandler(name, subscribeTopic string, subscriber message.Subscriber, handler message.NoPublishHandlerFunc) *message.Handler
}

// SubscriberFactory creates the broker subscriber for one event type. Each
// event type gets its own durable subscription.
type SubscriberFactory func(eventType events.Type) (message.Subscriber, error)

// Register adds one consumer per event type to router. It returns the created
// subscribers so the caller can close them on shutdown.
func Register(router Router, newSubscriber SubscriberFactory, queue Enqueuer) ([]message.Subscriber, error) {
	if router == nil || newSubscriber == nil {
		return nil, fmt.Errorf("consumer: router and subscriber factory required")
	}

	subs := make([]message.Subscriber, 0, len(events.Types()))
	for _, t := range events.Types() {
		h, err := NewHandler(t, queue)
		if err != nil {
			closeAll(subs)
			return nil, err
		}

		sub, err := newSubscriber(t)
		if err != nil {
			closeAll(subs)
			return nil, fmt.Errorf("consumer: subscriber for %s: %w", t, err)
		}
		subs = append(subs, sub)

		router.AddConsumerHandler(h.Name(), t.String(), sub, h.Handle)
		logging.Info().Str("event_type", t.String()).Str("handler", h.Name()).Msg("Event consumer registered")
	}
	return subs, nil
}

func closeAll(subs []message.Subscriber) {
	for _, s := range subs {
		if err := s.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close subscriber")
		}
	}
}
