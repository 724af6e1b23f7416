// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package config

import (
	"github.com/tomtom215/chatcounter/internal/admin"
	"github.com/tomtom215/chatcounter/internal/eventprocessor"
	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/store"
	"github.com/tomtom215/chatcounter/internal/supervisor"
	"github.com/tomtom215/chatcounter/internal/worker"
)

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	lc.Caller = c.Logging.Caller
	return lc
}

// EmbeddedServerOptions converts the NATS section for the embedded server.
func (c *Config) EmbeddedServerOptions() eventprocessor.ServerConfig {
	return eventprocessor.ServerConfig{
		Host:              c.NATS.Host,
		Port:              c.NATS.Port,
		StoreDir:          c.NATS.StoreDir,
		JetStreamMaxMem:   c.NATS.MaxMemory,
		JetStreamMaxStore: c.NATS.MaxStore,
	}
}

// StreamOptions returns the counter stream definition. The poison topic is
// part of the stream so poisoned copies are retained for inspection.
func (c *Config) StreamOptions() eventprocessor.StreamConfig {
	sc := eventprocessor.DefaultStreamConfig()
	sc.Name = c.NATS.StreamName
	sc.MaxAge = c.NATS.StreamRetention
	sc.DuplicateWindow = c.NATS.DuplicateWindow

	subjects := make([]string, 0, len(events.Types())+1)
	for _, t := range events.Types() {
		subjects = append(subjects, t.String())
	}
	if c.Router.PoisonQueueEnabled {
		subjects = append(subjects, c.Router.PoisonQueueTopic)
	}
	sc.Subjects = subjects
	return sc
}

// PublisherOptions converts the NATS section for a publisher on url.
func (c *Config) PublisherOptions(url string) eventprocessor.PublisherConfig {
	return eventprocessor.DefaultPublisherConfig(url)
}

// SubscriberOptions converts the NATS section for subscribers on url. Callers
// scope the result per event type with ForEventType.
func (c *Config) SubscriberOptions(url string) eventprocessor.SubscriberConfig {
	sc := eventprocessor.DefaultSubscriberConfig(url)
	sc.DurableName = c.NATS.DurableName
	sc.QueueGroup = c.NATS.QueueGroup
	sc.SubscribersCount = c.NATS.SubscribersCount
	sc.AckWaitTimeout = c.NATS.AckWait
	sc.MaxDeliver = c.NATS.MaxDeliver
	sc.MaxAckPending = c.NATS.MaxAckPending
	sc.StreamName = c.NATS.StreamName
	return sc
}

// RouterOptions converts the router section.
func (c *Config) RouterOptions() eventprocessor.RouterConfig {
	rc := eventprocessor.DefaultRouterConfig()
	rc.CloseTimeout = c.Router.CloseTimeout
	rc.RetryMaxRetries = c.Router.RetryCount
	rc.RetryInitialInterval = c.Router.RetryInitialInterval
	rc.RetryMaxInterval = c.Router.RetryMaxInterval
	rc.ThrottlePerSecond = c.Router.ThrottlePerSecond
	rc.PoisonQueueTopic = ""
	if c.Router.PoisonQueueEnabled {
		rc.PoisonQueueTopic = c.Router.PoisonQueueTopic
	}
	return rc
}

// QueueOptions converts the queue section; storage tuning keeps its defaults.
func (c *Config) QueueOptions() jobqueue.Config {
	qc := jobqueue.DefaultConfig()
	qc.Path = c.Queue.Path
	qc.SyncWrites = c.Queue.SyncWrites
	qc.MaxAttempts = c.Queue.MaxAttempts
	qc.BackoffBase = c.Queue.BackoffBase
	qc.BackoffMax = c.Queue.BackoffMax
	qc.VisibilityTimeout = c.Queue.VisibilityTimeout
	qc.CompletedRetention = c.Queue.CompletedRetention
	qc.CompactInterval = c.Queue.CompactInterval
	return qc
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Path:         c.Store.Path,
		BusyTimeout:  c.Store.BusyTimeout,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
}

// WorkerOptions converts the worker section.
func (c *Config) WorkerOptions() worker.Config {
	wc := worker.DefaultConfig()
	wc.Workers = c.Worker.Count
	wc.ClaimBatch = c.Worker.ClaimBatch
	wc.PollInterval = c.Worker.PollInterval
	wc.ClaimRate = c.Worker.ClaimRate
	wc.ClaimBurst = c.Worker.ClaimBurst
	wc.TaskTimeout = c.Worker.TaskTimeout
	wc.Breaker.FailureThreshold = c.Worker.BreakerThreshold
	wc.Breaker.Timeout = c.Worker.BreakerTimeout
	return wc
}

// AdminOptions converts the admin section.
func (c *Config) AdminOptions() admin.Config {
	return admin.Config{
		Host:            c.Admin.Host,
		Port:            c.Admin.Port,
		ReadTimeout:     c.Admin.ReadTimeout,
		WriteTimeout:    c.Admin.WriteTimeout,
		RateLimitReqs:   c.Admin.RateLimitReqs,
		RateLimitWindow: c.Admin.RateLimitWindow,
	}
}

// TreeOptions converts the supervisor section.
func (c *Config) TreeOptions() supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: c.Supervisor.FailureThreshold,
		FailureDecay:     c.Supervisor.FailureDecay,
		FailureBackoff:   c.Supervisor.FailureBackoff,
		ShutdownTimeout:  c.Supervisor.ShutdownTimeout,
	}
}
