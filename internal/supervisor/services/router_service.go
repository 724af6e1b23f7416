// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/chatcounter/internal/logging"
)

// RouterRunner is a message router that runs until its context ends.
// Satisfied by *eventprocessor.Router.
type RouterRunner interface {
	Run(ctx context.Context) error
}

// RouterBuilder assembles a fresh router and returns the resources (its
// subscribers) to close once the router stops.
type RouterBuilder func() (RouterRunner, []io.Closer, error)

// RouterService runs the event consumer router under supervision.
//
// A Watermill router cannot be restarted once closed, so every Serve call
// builds a new router and subscribers. When the broker connection drops the
// router exits with an error, suture backs off, and the next Serve
// reconnects. Unacked messages are redelivered by JetStream in the meantime.
type RouterService struct {
	build RouterBuilder
	name  string
}

// NewRouterService creates a router service using build for each run.
func NewRouterService(build RouterBuilder) *RouterService {
	return &RouterService{build: build, name: "event-router"}
}

// Serve implements suture.Service.
func (s *RouterService) Serve(ctx context.Context) error {
	router, closers, err := s.build()
	if err != nil {
		return fmt.Errorf("router build failed: %w", err)
	}
	defer closeAll(closers)

	err = router.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		// Run only returns without error on shutdown; anything else is a
		// premature stop and must be restarted.
		err = errors.New("router stopped unexpectedly")
	}
	return fmt.Errorf("router run failed: %w", err)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close router resource")
		}
	}
}

// String implements fmt.Stringer.
func (s *RouterService) String() string {
	return s.name
}
