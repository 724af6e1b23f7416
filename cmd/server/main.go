// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/chatcounter/internal/admin"
	"github.com/tomtom215/chatcounter/internal/config"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/store"
	"github.com/tomtom215/chatcounter/internal/supervisor"
	"github.com/tomtom215/chatcounter/internal/supervisor/services"
	"github.com/tomtom215/chatcounter/internal/worker"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.LoggingOptions())
	logging.Info().Msg("Starting chatcounter with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("chatcounter stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

// Components are opened bottom-up (store, queue, broker) and closed in
// reverse once the supervisor tree has stopped every service using them.
//
//nolint:gocyclo // Sequential setup steps
func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open counter store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing counter store")
		}
	}()
	logging.Info().Str("path", cfg.Store.Path).Msg("Counter store opened")

	queueCfg := cfg.QueueOptions()
	queue, err := jobqueue.Open(&queueCfg)
	if err != nil {
		return fmt.Errorf("open job queue: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing job queue")
		}
	}()
	recovery := queue.Recovery()
	logging.Info().
		Str("path", queueCfg.Path).
		Int("pending", recovery.Pending).
		Int("expired_leases", recovery.ExpiredLeases).
		Int("dead", recovery.Dead).
		Msg("Job queue opened")

	pool, err := worker.NewPool(queue, st, cfg.WorkerOptions())
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	natsComponents, err := InitNATS(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize NATS: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout)
		defer cancel()
		natsComponents.Shutdown(shutdownCtx)
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.TreeOptions())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	// Data layer
	tree.AddDataService(services.NewLifecycleService("queue-compactor", jobqueue.NewCompactor(queue)))
	if cfg.Audit.Enabled {
		tree.AddDataService(services.NewAuditService(st, cfg.Audit.Interval))
		logging.Info().Dur("interval", cfg.Audit.Interval).Msg("Counter drift audit enabled")
	}

	// Pipeline layer
	tree.AddPipelineService(pool)
	tree.AddPipelineService(services.NewRouterService(natsComponents.RouterBuilder(queue)))
	logging.Info().Int("workers", cfg.Worker.Count).Msg("Event pipeline services added")

	// API layer
	if cfg.Admin.Enabled {
		server := admin.NewServer(cfg.AdminOptions(), admin.Deps{
			Queue:     queue,
			Store:     st,
			Publisher: natsComponents.Publisher(),
			Workers:   pool,
			Checks: map[string]admin.HealthCheck{
				"nats": natsComponents.HealthCheck,
			},
		})
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Admin server service added")
	}

	watchConfig()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// The channel receives exactly once, when the root supervisor returns.
	var runErr error
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
		runErr = err
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	return runErr
}

// watchConfig reloads the log level when the config file changes. Every
// other setting requires a restart.
func watchConfig() {
	path := config.ConfigFile()
	if path == "" {
		return
	}

	err := config.WatchConfigFile(path, func() {
		reloaded, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config reload")
			return
		}
		logging.SetLevelString(reloaded.Logging.Level)
		logging.Info().Str("level", reloaded.Logging.Level).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
		return
	}
	logging.Info().Str("path", path).Msg("Watching config file for log level changes")
}
