// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tomtom215/chatcounter/internal/admin"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the durable job queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and worker pool statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var stats admin.QueueStatsResponse
			if _, err := client.Get(ctx, "/api/v1/queue/stats", &stats); err != nil {
				return apiFailure("failed to get queue stats", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return printJSON(out, stats)
			}

			q := stats.Queue
			pairs := [][2]string{
				{"pending", i64(q.Pending)},
				{"leased", i64(q.Leased)},
				{"dead", i64(q.Dead)},
				{"completed", i64(q.Completed)},
				{"total_enqueued", i64(q.TotalEnqueued)},
				{"total_done", i64(q.TotalDone)},
				{"total_failed", i64(q.TotalFailed)},
				{"total_dead", i64(q.TotalDead)},
				{"total_replayed", i64(q.TotalReplayed)},
			}
			if w := stats.Workers; w != nil {
				pairs = append(pairs,
					[2]string{"workers", strconv.Itoa(w.Workers)},
					[2]string{"workers_running", strconv.FormatBool(w.Running)},
					[2]string{"applied", i64(w.Applied)},
					[2]string{"duplicates", i64(w.Duplicates)},
					[2]string{"not_found", i64(w.NotFound)},
					[2]string{"breaker_state", w.BreakerState},
				)
			}
			printKV(out, pairs)
			return nil
		},
	})

	return cmd
}

// NewHealthCommand creates the health command. A degraded server exits with
// ExitFailure.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var health admin.HealthResponse
			status, _, err := client.Do(ctx, http.MethodGet, "/healthz", nil, &health)
			if err != nil {
				return apiFailure("health check failed", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if err := printJSON(out, health); err != nil {
					return err
				}
			} else {
				names := lo.Keys(health.Checks)
				sort.Strings(names)
				printTable(out, []string{"check", "result"}, lo.Map(names, func(name string, _ int) []string {
					return []string{name, health.Checks[name]}
				}))
				fmt.Fprintf(out, "\nStatus: %s\n", health.Status)
			}

			if status != http.StatusOK {
				return &ExitError{Code: ExitFailure, Message: "server is " + health.Status,
					Err: errors.New(http.StatusText(status))}
			}
			return nil
		},
	}
}

func i64(v int64) string {
	return strconv.FormatInt(v, 10)
}
