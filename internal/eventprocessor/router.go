// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/chatcounter/internal/metrics"
)

// Router wraps the Watermill Router with the counter pipeline middleware.
// A handler that returns nil gets its message acked. A handler error wrapping
// *PermanentError sends the message to the poison topic and acks it. Any
// other error is retried in-process and then nacked for broker redelivery.
type Router struct {
	router    *message.Router
	config    RouterConfig
	logger    watermill.LoggerAdapter
	running   atomic.Bool
	handlers  map[string]*message.Handler
	poisonPub message.Publisher
}

// NewRouter creates a Router. poisonPublisher may be nil, in which case
// permanent failures are only logged and acked.
func NewRouter(cfg *RouterConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg == nil {
		defaultCfg := DefaultRouterConfig()
		cfg = &defaultCfg
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &Router{
		router:   wmRouter,
		config:   *cfg,
		logger:   logger,
		handlers: make(map[string]*message.Handler),
	}

	// Outer to inner: Recoverer, Metrics, Retry, Throttle, PoisonQueue.
	// Permanent errors are absorbed by the poison queue before Retry sees
	// them, so undecodable payloads are never retried.
	wmRouter.AddMiddleware(middleware.Recoverer)
	wmRouter.AddMiddleware(metricsMiddleware)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.ThrottlePerSecond > 0 {
		throttle := middleware.NewThrottle(cfg.ThrottlePerSecond, time.Second)
		wmRouter.AddMiddleware(throttle.Middleware)
	}

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		r.poisonPub = &poisonRepublisher{next: poisonPublisher}
		poison, err := middleware.PoisonQueueWithFilter(r.poisonPub, cfg.PoisonQueueTopic, IsPermanentError)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	} else {
		wmRouter.AddMiddleware(dropPermanent(logger))
	}

	return r, nil
}

// metricsMiddleware records the final outcome of every handled message.
func metricsMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		produced, err := h(msg)
		metrics.RecordRouterMessage(message.HandlerNameFromCtx(msg.Context()), err, time.Since(start))
		return produced, err
	}
}

// dropPermanent acks permanently failing messages when no poison publisher
// is configured.
func dropPermanent(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			produced, err := h(msg)
			if err != nil && IsPermanentError(err) {
				logger.Error("Dropping permanently failed message", err, watermill.LogFields{
					"message_uuid": msg.UUID,
				})
				return nil, nil
			}
			return produced, err
		}
	}
}

// poisonRepublisher gives each poisoned copy its own deduplication id, scoped
// to the poison topic. A redelivered poison message maps to the same id, so
// the broker keeps one copy per original delivery.
type poisonRepublisher struct {
	next message.Publisher
}

func (p *poisonRepublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		msg.Metadata.Set(natsgo.MsgIdHdr, poisonMsgID(topic, msg))
		metrics.RecordPoisoned(msg.Metadata.Get("event_type"))
	}
	return p.next.Publish(topic, msgs...)
}

func (p *poisonRepublisher) Close() error {
	return nil
}

// poisonMsgID derives the dedup id of a poisoned copy. Received messages have
// their Nats-Msg-Id stripped by the marshaler, so the Watermill UUID is the
// usual source.
func poisonMsgID(topic string, msg *message.Message) string {
	id := msg.Metadata.Get(natsgo.MsgIdHdr)
	if id == "" {
		id = msg.UUID
	}
	return topic + ":" + id
}

// AddConsumerHandler registers a handler that produces no output messages.
func (r *Router) AddConsumerHandler(
	name string,
	subscribeTopic string,
	subscriber message.Subscriber,
	handler message.NoPublishHandlerFunc,
) *message.Handler {
	h := r.router.AddConsumerHandler(name, subscribeTopic, subscriber, handler)
	r.handlers[name] = h
	return h
}

// Handlers returns the names of registered handlers.
func (r *Router) Handlers() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Run starts the router and blocks until ctx is canceled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)
	return r.router.Run(ctx)
}

// Running returns a channel that closes once every handler is subscribed.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight handlers.
func (r *Router) Close() error {
	return r.router.Close()
}

// IsRunning reports whether Run is active.
func (r *Router) IsRunning() bool {
	return r.running.Load()
}
