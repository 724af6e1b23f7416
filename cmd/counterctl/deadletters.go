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

	"github.com/tomtom215/chatcounter/internal/admin"
)

// DeadLettersListOptions holds flags for deadletters list.
type DeadLettersListOptions struct {
	*RootOptions
	EventType string
	Reason    string
	Limit     int
	Offset    int
}

// DeadLetterList is the JSON output of deadletters list.
type DeadLetterList struct {
	Items []admin.DeadLetter `json:"items"`
	Total int                `json:"total"`
}

// NewDeadLettersCommand creates the deadletters command group.
func NewDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay dead-lettered counter tasks",
	}

	cmd.AddCommand(newDeadLettersListCommand(rootOpts))
	cmd.AddCommand(newDeadLettersShowCommand(rootOpts))
	cmd.AddCommand(newDeadLettersReplayCommand(rootOpts))

	return cmd
}

func newDeadLettersListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadLettersListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		Example: `  counterctl deadletters list
  counterctl deadletters list --event-type message_created --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLettersList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventType, "event-type", "", "only this event type")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "only this dead-letter reason")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size (1-1000)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")

	return cmd
}

func runDeadLettersList(opts *DeadLettersListOptions, cmd *cobra.Command) error {
	client, ctx, cancel, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}
	defer cancel()

	q := url.Values{}
	if opts.EventType != "" {
		q.Set("event_type", opts.EventType)
	}
	if opts.Reason != "" {
		q.Set("reason", opts.Reason)
	}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("offset", strconv.Itoa(opts.Offset))

	var items []admin.DeadLetter
	meta, err := client.Get(ctx, "/api/v1/deadletters?"+q.Encode(), &items)
	if err != nil {
		return apiFailure("failed to list dead letters", err)
	}

	result := DeadLetterList{Items: items, Total: len(items)}
	if meta.Total != nil {
		result.Total = *meta.Total
	}
	if result.Items == nil {
		result.Items = []admin.DeadLetter{}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return printJSON(out, result)
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No dead letters.")
		return nil
	}
	printTable(out,
		[]string{"task_id", "event_type", "event_id", "reason", "attempts", "dead_lettered_at"},
		lo.Map(items, func(dl admin.DeadLetter, _ int) []string {
			return []string{dl.TaskID, dl.EventType, dl.EventID, dl.Reason,
				strconv.Itoa(dl.Attempts), formatTimePtr(dl.DeadLetteredAt)}
		}))
	fmt.Fprintf(out, "\nShowing %d of %d\n", len(items), result.Total)
	return nil
}

func newDeadLettersShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one dead letter including its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			var dl admin.DeadLetter
			if _, err := client.Get(ctx, "/api/v1/deadletters/"+url.PathEscape(args[0]), &dl); err != nil {
				return apiFailure("failed to get dead letter", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return printJSON(out, dl)
			}
			printKV(out, [][2]string{
				{"task_id", dl.TaskID},
				{"event_type", dl.EventType},
				{"event_id", dl.EventID},
				{"reason", dl.Reason},
				{"attempts", strconv.Itoa(dl.Attempts)},
				{"replays", strconv.Itoa(dl.Replays)},
				{"last_error", lo.Ternary(dl.LastError == "", "-", dl.LastError)},
				{"created_at", formatTime(dl.CreatedAt)},
				{"dead_lettered_at", formatTimePtr(dl.DeadLetteredAt)},
				{"payload", dl.Payload},
			})
			return nil
		},
	}
}

func newDeadLettersReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "replay [task-id]",
		Short: "Move dead letters back to pending with a fresh attempt budget",
		Example: `  counterctl deadletters replay 3f2a...
  counterctl deadletters replay --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return fmt.Errorf("--all takes no task id")
			case !all && len(args) != 1:
				return fmt.Errorf("requires a task id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			defer cancel()

			path := "/api/v1/deadletters/replay"
			if !all {
				path = "/api/v1/deadletters/" + url.PathEscape(args[0]) + "/replay"
			}

			var resp admin.ReplayResponse
			if err := client.Post(ctx, path, nil, &resp); err != nil {
				return apiFailure("replay failed", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return printJSON(out, resp)
			}
			if resp.TaskID != "" {
				fmt.Fprintf(out, "Replayed task %s\n", resp.TaskID)
				return nil
			}
			fmt.Fprintf(out, "Replayed %d dead letter(s)\n", resp.Replayed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "replay every dead letter")
	return cmd
}
