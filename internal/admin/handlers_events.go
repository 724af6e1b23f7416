// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package admin

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/chatcounter/internal/events"
)

// maxEventBytes bounds a published event body.
const maxEventBytes = 64 << 10

// PublishEventResponse acknowledges a published event.
type PublishEventResponse struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
}

// PublishEvent handles POST /api/v1/events/{type}
//
// The body is validated against the event contract before it reaches the
// broker, so operators cannot inject poison through this endpoint. The
// payload is published unchanged.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISHER_UNAVAILABLE", "Event publishing is not configured", nil)
		return
	}

	eventType, err := events.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_EVENT_TYPE", err.Error(), nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body", nil)
		return
	}
	if len(payload) > maxEventBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Event body exceeds 64KB", nil)
		return
	}

	ev, err := events.Decode(eventType, payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.deps.Publisher.PublishRaw(r.Context(), eventType, payload); err != nil {
		respondError(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", "Failed to publish event", err)
		return
	}

	respondData(w, http.StatusAccepted, PublishEventResponse{EventType: eventType.String(), EventID: ev.ID()})
}
