// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package admin

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"
)

// healthCheckTimeout bounds every individual health check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /healthz
//
// Returns 200 when every check passes and 503 otherwise. The store is pinged
// and the queue must answer; extra checks come from Deps.Checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthCheck{
		"store": h.deps.Store.Ping,
		"queue": h.deps.Queue.Ping,
	}
	for name, check := range h.deps.Checks {
		checks[name] = check
	}

	names := lo.Keys(checks)
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checks[name](ctx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondData(w, status, resp)
}
