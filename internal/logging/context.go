// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	eventIDKey       contextKey = "event_id"
	taskIDKey        contextKey = "task_id"
)

// GenerateCorrelationID creates a short correlation ID (first 8 characters of a UUID).
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext retrieves the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithEventID attaches the payload-derived event identifier.
func ContextWithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

// ContextWithTaskID attaches a job queue task identifier.
func ContextWithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// Ctx returns a logger with any correlation, event and task identifiers found in ctx.
//
//	logging.Ctx(ctx).Info().Msg("Increment applied")
//	// {"level":"info","correlation_id":"abc12345","event_id":"chat_created:abc:1","message":"Increment applied"}
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()
	for _, key := range []contextKey{correlationIDKey, eventIDKey, taskIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logCtx = logCtx.Str(string(key), v)
		}
	}
	l := logCtx.Logger()
	return &l
}
