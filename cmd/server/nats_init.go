// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/samber/lo"

	"github.com/tomtom215/chatcounter/internal/config"
	"github.com/tomtom215/chatcounter/internal/consumer"
	"github.com/tomtom215/chatcounter/internal/eventprocessor"
	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/supervisor/services"
)

// NATSComponents holds the broker-side components for lifecycle management.
// Subscribers and the router are not held here: they are rebuilt by the
// router service on every supervised restart.
type NATSComponents struct {
	cfg               *config.Config
	url               string
	server            *eventprocessor.EmbeddedServer
	natsConn          *natsgo.Conn
	streamInitializer *eventprocessor.StreamInitializer
	publisher         *eventprocessor.Publisher
}

// InitNATS starts the embedded server when configured, provisions the counter
// stream and creates the shared publisher.
func InitNATS(ctx context.Context, cfg *config.Config) (*NATSComponents, error) {
	components := &NATSComponents{cfg: cfg}

	// Step 1: Embedded server or external URL
	if cfg.NATS.EmbeddedServer {
		serverCfg := cfg.EmbeddedServerOptions()
		server, err := eventprocessor.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, err
		}
		components.server = server
		components.url = server.ClientURL()
		logging.Info().Str("url", components.url).Msg("Embedded NATS server started")
	} else {
		components.url = cfg.NATS.URL
		logging.Info().Str("url", components.url).Msg("Using external NATS server")
	}

	// Step 2: Connection used for stream management and health checks
	nc, err := natsgo.Connect(components.url,
		natsgo.Name("chatcounter-admin"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc
	logging.Info().Msg("NATS connection established")

	// Step 3: Ensure the counter stream exists
	js, err := jetstream.New(nc)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := cfg.StreamOptions()
	streamInitializer, err := eventprocessor.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create stream initializer: %w", err)
	}
	components.streamInitializer = streamInitializer

	stream, err := streamInitializer.EnsureStream(ctx)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("ensure stream exists: %w", err)
	}
	streamInfo := stream.CachedInfo()
	logging.Info().
		Str("name", streamInfo.Config.Name).
		Strs("subjects", streamInfo.Config.Subjects).
		Dur("max_age", streamInfo.Config.MaxAge).
		Msg("JetStream stream ready")

	// Step 4: Publisher for the admin API and the poison queue
	publisher, err := eventprocessor.NewPublisher(cfg.PublisherOptions(components.url), logging.NewWatermillLogger())
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}
	publisher.SetCircuitBreaker(eventprocessor.NewCircuitBreaker(
		eventprocessor.DefaultCircuitBreakerConfig("nats-publisher"), nil))
	components.publisher = publisher
	logging.Info().Msg("NATS publisher created")

	return components, nil
}

// URL returns the broker URL in use.
func (c *NATSComponents) URL() string {
	return c.url
}

// Publisher returns the shared publisher.
func (c *NATSComponents) Publisher() *eventprocessor.Publisher {
	return c.publisher
}

// RouterBuilder returns the builder used by the router service. Each call
// creates a router with one consumer per event type, all enqueuing into
// queue. The returned closers are the subscribers.
func (c *NATSComponents) RouterBuilder(queue consumer.Enqueuer) services.RouterBuilder {
	return func() (services.RouterRunner, []io.Closer, error) {
		routerCfg := c.cfg.RouterOptions()

		var poisonPub message.Publisher
		if routerCfg.PoisonQueueTopic != "" && c.publisher != nil {
			poisonPub = c.publisher.WatermillPublisher()
		}

		logger := logging.NewWatermillLogger()
		router, err := eventprocessor.NewRouter(&routerCfg, poisonPub, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create router: %w", err)
		}

		subCfg := c.cfg.SubscriberOptions(c.url)
		subs, err := consumer.Register(router, func(t events.Type) (message.Subscriber, error) {
			scoped := subCfg.ForEventType(t.String())
			return eventprocessor.NewSubscriber(&scoped, logger)
		}, queue)
		if err != nil {
			_ = router.Close()
			return nil, nil, err
		}

		logging.Info().
			Int("retry", routerCfg.RetryMaxRetries).
			Str("poison_topic", routerCfg.PoisonQueueTopic).
			Strs("handlers", router.Handlers()).
			Msg("Watermill Router created")

		closers := lo.Map(subs, func(s message.Subscriber, _ int) io.Closer { return s })
		return router, closers, nil
	}
}

// HealthCheck reports whether the broker connection is up and the counter
// stream is reachable.
func (c *NATSComponents) HealthCheck(ctx context.Context) error {
	if c == nil || c.natsConn == nil {
		return errors.New("nats not initialized")
	}
	if status := c.natsConn.Status(); status != natsgo.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	if !c.streamInitializer.IsHealthy(ctx) {
		return fmt.Errorf("stream %s unavailable", c.streamInitializer.Config().Name)
	}
	return nil
}

// Shutdown closes the publisher and connection, then the embedded server.
// Safe on partially initialized components.
func (c *NATSComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing NATS publisher")
		}
		c.publisher = nil
	}

	if c.natsConn != nil {
		c.natsConn.Close()
		c.natsConn = nil
	}

	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Error shutting down embedded NATS server")
		}
		c.server = nil
	}

	logging.Info().Msg("NATS components shut down")
}
