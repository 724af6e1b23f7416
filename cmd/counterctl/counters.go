// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tomtom215/chatcounter/internal/store"
)

// NewCountersCommand creates the counters command group.
func NewCountersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Read derived counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "app <token>",
		Short: "Show an application and its chats_count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var app store.Application
			if _, err := client.Get(ctx, "/api/v1/applications/"+url.PathEscape(args[0]), &app); err != nil {
				return apiFailure("failed to get application", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return printJSON(out, app)
			}
			printKV(out, [][2]string{
				{"token", app.Token},
				{"name", app.Name},
				{"chats_count", strconv.FormatInt(app.ChatsCount, 10)},
				{"updated_at", formatTime(app.UpdatedAt)},
			})
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "chat <id>",
		Short: "Show a chat and its messages_count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return WrapExitError(ExitCommandError, "chat id must be a positive integer", err)
			}

			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var chat store.Chat
			if _, err := client.Get(ctx, "/api/v1/chats/"+strconv.FormatInt(id, 10), &chat); err != nil {
				return apiFailure("failed to get chat", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return printJSON(out, chat)
			}
			printKV(out, [][2]string{
				{"id", strconv.FormatInt(chat.ID, 10)},
				{"application_token", chat.ApplicationToken},
				{"number", strconv.FormatInt(chat.Number, 10)},
				{"messages_count", strconv.FormatInt(chat.MessagesCount, 10)},
				{"updated_at", formatTime(chat.UpdatedAt)},
			})
			return nil
		},
	})

	return cmd
}

// NewDriftCommand creates the drift command. It exits with ExitFailure when
// any counter breaks an invariant, so it can gate scripts.
func NewDriftCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Run the counter drift audit",
		Long: `Run the read-only drift audit. A counter may lag its child rows while events
are in flight, but it must never exceed them and must always equal its number
of ledger entries.

Exit codes:
  0 - No drift
  1 - Drift detected
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var report store.DriftReport
			if _, err := client.Get(ctx, "/api/v1/audit/drift", &report); err != nil {
				return apiFailure("drift audit failed", err)
			}
			if report.Drifts == nil {
				report.Drifts = []store.Drift{}
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Checked %d applications and %d chats\n", report.Applications, report.Chats)
				if len(report.Drifts) > 0 {
					printTable(out,
						[]string{"counter", "key", "kind", "stored", "rows", "ledger"},
						lo.Map(report.Drifts, func(d store.Drift, _ int) []string {
							return []string{d.Counter, d.Key, string(d.Kind),
								strconv.FormatInt(d.Stored, 10),
								strconv.FormatInt(d.Rows, 10),
								strconv.FormatInt(d.Ledger, 10)}
						}))
				}
			}

			if len(report.Drifts) > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d counter(s) drifted", len(report.Drifts))}
			}
			if rootOpts.Format != "json" {
				fmt.Fprintln(out, "No drift")
			}
			return nil
		},
	}
}
