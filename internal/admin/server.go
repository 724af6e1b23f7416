// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package admin

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/chatcounter/internal/events"
	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/store"
	"github.com/tomtom215/chatcounter/internal/worker"
)

// Config holds admin server settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitReqs   int // 0 disables rate limiting
	RateLimitWindow time.Duration
}

// DefaultConfig returns local-only defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8089,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// QueueAdmin is the job queue surface the admin API needs.
type QueueAdmin interface {
	Ping(ctx context.Context) error
	Stats() jobqueue.Stats
	Get(ctx context.Context, id string) (*jobqueue.Task, error)
	DeadLetters(ctx context.Context) ([]*jobqueue.Task, error)
	Replay(ctx context.Context, id string) (*jobqueue.Task, error)
	ReplayAll(ctx context.Context) (int, error)
}

// CounterReader is the entity store surface the admin API needs.
type CounterReader interface {
	Ping(ctx context.Context) error
	GetApplication(ctx context.Context, token string) (*store.Application, error)
	GetChat(ctx context.Context, id int64) (*store.Chat, error)
	Drift(ctx context.Context) (*store.DriftReport, error)
}

// EventPublisher publishes a raw contract event to the broker.
type EventPublisher interface {
	PublishRaw(ctx context.Context, eventType events.Type, payload []byte) error
}

// WorkerStats reports worker pool statistics.
type WorkerStats interface {
	Stats() worker.Stats
}

// HealthCheck reports nil when a dependency is healthy.
type HealthCheck func(ctx context.Context) error

// Deps are the components behind the admin API. Queue and Store are required;
// Publisher and Workers are optional and their endpoints answer 503 when nil.
type Deps struct {
	Queue     QueueAdmin
	Store     CounterReader
	Publisher EventPublisher
	Workers   WorkerStats

	// Checks are extra named health checks (broker connection, stream).
	Checks map[string]HealthCheck
}

// Handler serves the admin API.
type Handler struct {
	deps Deps
}

// NewHandler creates the admin handlers.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Router builds the chi router for the admin API.
func Router(cfg Config, deps Deps) http.Handler {
	h := NewHandler(deps)
	r := chi.NewRouter()

	r.Use(requestIDWithLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(prometheusMetrics)

		r.Get("/queue/stats", h.QueueStats)

		r.Get("/deadletters", h.ListDeadLetters)
		r.Post("/deadletters/replay", h.ReplayAllDeadLetters)
		r.Get("/deadletters/{id}", h.GetDeadLetter)
		r.Post("/deadletters/{id}/replay", h.ReplayDeadLetter)

		r.Get("/applications/{token}", h.GetApplication)
		r.Get("/chats/{id}", h.GetChat)
		r.Get("/audit/drift", h.Drift)

		r.Post("/events/{type}", h.PublishEvent)
	})

	return r
}

// NewServer returns an *http.Server for the admin API. Run it under
// supervision with services.NewHTTPServerService.
func NewServer(cfg Config, deps Deps) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           Router(cfg, deps),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * cfg.WriteTimeout,
	}
}
