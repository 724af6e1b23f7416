// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package admin

import (
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/tomtom215/chatcounter/internal/jobqueue"
	"github.com/tomtom215/chatcounter/internal/worker"
)

// QueueStatsResponse combines job queue and worker pool statistics.
type QueueStatsResponse struct {
	Queue   jobqueue.Stats `json:"queue"`
	Workers *worker.Stats  `json:"workers,omitempty"`
}

// DeadLetter is the API view of a dead-lettered task.
type DeadLetter struct {
	TaskID         string     `json:"task_id"`
	EventType      string     `json:"event_type"`
	EventID        string     `json:"event_id"`
	Reason         string     `json:"reason"`
	Attempts       int        `json:"attempts"`
	Replays        int        `json:"replays"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	Payload        string     `json:"payload,omitempty"`
}

// ReplayResponse reports the result of a replay.
type ReplayResponse struct {
	Replayed int    `json:"replayed"`
	TaskID   string `json:"task_id,omitempty"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func toDeadLetter(t *jobqueue.Task, withPayload bool) DeadLetter {
	dl := DeadLetter{
		TaskID:         t.ID,
		EventType:      t.EventType,
		EventID:        t.EventID,
		Reason:         t.DeadLetterReason,
		Attempts:       t.Attempts,
		Replays:        t.Replays,
		LastError:      t.LastError,
		CreatedAt:      t.CreatedAt,
		DeadLetteredAt: t.DeadLetteredAt,
	}
	if withPayload {
		dl.Payload = string(t.Payload)
	}
	return dl
}

// QueueStats handles GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	resp := QueueStatsResponse{Queue: h.deps.Queue.Stats()}
	if h.deps.Workers != nil {
		ws := h.deps.Workers.Stats()
		resp.Workers = &ws
	}
	respondData(w, http.StatusOK, resp)
}

// ListDeadLetters handles GET /api/v1/deadletters
//
// Query parameters: event_type, reason, limit (1-1000, default 50), offset.
// Entries are ordered oldest dead-lettered first.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseBoundedInt(q.Get("limit"), defaultListLimit, 1, maxListLimit)
	offset := parseBoundedInt(q.Get("offset"), 0, 0, math.MaxInt32)
	eventType := q.Get("event_type")
	reason := q.Get("reason")

	tasks, err := h.deps.Queue.DeadLetters(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Failed to list dead letters", err)
		return
	}

	tasks = lo.Filter(tasks, func(t *jobqueue.Task, _ int) bool {
		return (eventType == "" || t.EventType == eventType) &&
			(reason == "" || t.DeadLetterReason == reason)
	})
	sort.SliceStable(tasks, func(i, j int) bool {
		return deadAt(tasks[i]).Before(deadAt(tasks[j]))
	})

	total := len(tasks)
	page := lo.Subset(tasks, offset, uint(limit))
	respondList(w, lo.Map(page, func(t *jobqueue.Task, _ int) DeadLetter {
		return toDeadLetter(t, false)
	}), total)
}

func deadAt(t *jobqueue.Task) time.Time {
	if t.DeadLetteredAt == nil {
		return t.CreatedAt
	}
	return *t.DeadLetteredAt
}

// GetDeadLetter handles GET /api/v1/deadletters/{id}
func (h *Handler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.deps.Queue.Get(r.Context(), id)
	switch {
	case errors.Is(err, jobqueue.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Failed to read task", err)
		return
	case task.State != jobqueue.StateDead:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Task is not dead-lettered", nil)
		return
	}

	respondData(w, http.StatusOK, toDeadLetter(task, true))
}

// ReplayDeadLetter handles POST /api/v1/deadletters/{id}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.deps.Queue.Replay(r.Context(), id)
	switch {
	case errors.Is(err, jobqueue.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Dead-lettered task not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Failed to replay task", err)
		return
	}

	respondData(w, http.StatusOK, ReplayResponse{Replayed: 1, TaskID: task.ID})
}

// ReplayAllDeadLetters handles POST /api/v1/deadletters/replay
func (h *Handler) ReplayAllDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Queue.ReplayAll(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Replay stopped early", err)
		return
	}
	respondData(w, http.StatusOK, ReplayResponse{Replayed: n})
}

// parseBoundedInt returns def when s is empty or outside [low, high].
func parseBoundedInt(s string, def, low, high int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < low || v > high {
		return def
	}
	return v
}
