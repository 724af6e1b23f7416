// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"time"
)

// PoisonTopic receives messages whose payload can never be decoded.
const PoisonTopic = "counters.poison"

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded NATS server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/chatcounter/jetstream",
		JetStreamMaxMem:   256 << 20, // 256MB
		JetStreamMaxStore: 4 << 30,   // 4GB
	}
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int

	// EnableTrackMsgID makes watermill-nats send the Watermill UUID as the
	// JetStream dedup id, overriding any Nats-Msg-Id header. Leave it off so
	// event ids deduplicate and poisoned copies are not dropped as duplicates
	// of their original delivery.
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: false,
	}
}

// SubscriberConfig holds subscriber configuration. Each event type gets its
// own subscriber so that every queue has an independent durable consumer.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration

	// MaxDeliver limits broker redeliveries. Values <= 0 mean unlimited, which
	// is required so a message whose enqueue keeps failing is never dropped.
	MaxDeliver    int
	MaxAckPending int
	CloseTimeout  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration

	// StreamName binds the consumer to an existing stream instead of letting
	// watermill auto-provision one per topic.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for a subscriber.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "chatcounter",
		QueueGroup:       "chatcounter",
		SubscribersCount: 2,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       -1,
		MaxAckPending:    1000,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       "COUNTER_EVENTS",
	}
}

// ForEventType returns a copy of c with durable and queue group names scoped
// to one event type.
func (c SubscriberConfig) ForEventType(eventType string) SubscriberConfig {
	c.DurableName = c.DurableName + "-" + eventType
	c.QueueGroup = c.QueueGroup + "-" + eventType
	return c
}

// StreamConfig defines the counter event stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name: "COUNTER_EVENTS",
		Subjects: []string{
			"chat_created",
			"message_created",
			PoisonTopic,
		},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        4 * 1024 * 1024 * 1024, // 4GB
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// RouterConfig holds configuration for the watermill Router.
type RouterConfig struct {
	// CloseTimeout is how long to wait for handlers to finish when closing.
	CloseTimeout time.Duration

	// In-process retry of transient handler errors before the message is nacked.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// ThrottlePerSecond limits handled messages per second (0 = disabled).
	ThrottlePerSecond int64

	// PoisonQueueTopic receives permanently undecodable messages.
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults for the Router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
		RetryMultiplier:      2.0,
		ThrottlePerSecond:    0,
		PoisonQueueTopic:     PoisonTopic,
	}
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Consecutive failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
