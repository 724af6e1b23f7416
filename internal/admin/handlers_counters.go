// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/chatcounter/internal/store"
)

// GetApplication handles GET /api/v1/applications/{token}
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.deps.Store.GetApplication(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, "Application not found", err)
		return
	}
	respondData(w, http.StatusOK, app)
}

// GetChat handles GET /api/v1/chats/{id}
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Chat id must be a positive integer", nil)
		return
	}

	chat, err := h.deps.Store.GetChat(r.Context(), id)
	if err != nil {
		respondStoreError(w, "Chat not found", err)
		return
	}
	respondData(w, http.StatusOK, chat)
}

// Drift handles GET /api/v1/audit/drift
//
// Runs the read-only counter audit on demand. Nothing is repaired.
func (h *Handler) Drift(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Store.Drift(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Drift audit failed", err)
		return
	}
	if report.Drifts == nil {
		report.Drifts = []store.Drift{}
	}
	respondData(w, http.StatusOK, report)
}

func respondStoreError(w http.ResponseWriter, notFoundMessage string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", notFoundMessage, nil)
		return
	}
	respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Entity store unavailable", err)
}
