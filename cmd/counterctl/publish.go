// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chatcounter/internal/admin"
	"github.com/tomtom215/chatcounter/internal/eventprocessor"
	"github.com/tomtom215/chatcounter/internal/events"
)

// maxPayloadBytes bounds a raw payload read from a file or stdin.
const maxPayloadBytes = 64 << 10

// PublishOptions holds flags shared by the publish subcommands.
type PublishOptions struct {
	*RootOptions

	// NATSURL publishes straight to the broker instead of through the admin API.
	NATSURL string
}

// NewPublishCommand creates the publish command group.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish counter events",
		Long: `Publish chat_created and message_created events. Payloads are validated
locally before they are sent. Republishing the same event is safe: the
idempotency ledger counts it once.

By default events go through the admin API. With --nats-url they are
published straight to JetStream.`,
	}

	cmd.PersistentFlags().StringVar(&opts.NATSURL, "nats-url", "", "publish directly to this NATS server")

	cmd.AddCommand(newPublishChatCreatedCommand(opts))
	cmd.AddCommand(newPublishMessageCreatedCommand(opts))
	cmd.AddCommand(newPublishRawCommand(opts))

	return cmd
}

func newPublishChatCreatedCommand(opts *PublishOptions) *cobra.Command {
	var (
		appToken   string
		chatID     int64
		chatNumber int64
	)

	cmd := &cobra.Command{
		Use:     "chat-created",
		Short:   "Publish a chat_created event",
		Example: `  counterctl publish chat-created --app-token 9f86d0 --chat-id 42 --chat-number 3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return publishEvent(opts, cmd, events.NewChatCreated(appToken, chatID, chatNumber))
		},
	}

	cmd.Flags().StringVar(&appToken, "app-token", "", "application token (required)")
	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "chat row id (required)")
	cmd.Flags().Int64Var(&chatNumber, "chat-number", 0, "chat number within the application (required)")
	_ = cmd.MarkFlagRequired("app-token")
	_ = cmd.MarkFlagRequired("chat-id")
	_ = cmd.MarkFlagRequired("chat-number")

	return cmd
}

func newPublishMessageCreatedCommand(opts *PublishOptions) *cobra.Command {
	var (
		chatID        int64
		messageID     int64
		messageNumber int64
	)

	cmd := &cobra.Command{
		Use:     "message-created",
		Short:   "Publish a message_created event",
		Example: `  counterctl publish message-created --chat-id 42 --message-id 1007 --message-number 12`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return publishEvent(opts, cmd, events.NewMessageCreated(chatID, messageID, messageNumber))
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "chat row id (required)")
	cmd.Flags().Int64Var(&messageID, "message-id", 0, "message row id (required)")
	cmd.Flags().Int64Var(&messageNumber, "message-number", 0, "message number within the chat (required)")
	_ = cmd.MarkFlagRequired("chat-id")
	_ = cmd.MarkFlagRequired("message-id")
	_ = cmd.MarkFlagRequired("message-number")

	return cmd
}

func newPublishRawCommand(opts *PublishOptions) *cobra.Command {
	var (
		eventType string
		file      string
	)

	cmd := &cobra.Command{
		Use:   "raw",
		Short: "Publish a captured JSON payload",
		Example: `  counterctl publish raw --type message_created --file payload.json
  cat payload.json | counterctl publish raw --type chat_created`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := events.ParseType(eventType)
			if err != nil {
				return WrapExitError(ExitCommandError, "bad --type", err)
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open payload", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			payload, err := io.ReadAll(io.LimitReader(r, maxPayloadBytes+1))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read payload", err)
			}
			if len(payload) > maxPayloadBytes {
				return WrapExitError(ExitCommandError, "payload too large", nil)
			}

			e, err := events.Decode(t, payload)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid payload", err)
			}
			return publishPayload(opts, cmd, t, e.ID(), payload)
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "event type: chat_created or message_created (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file (default stdin)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// publishEvent validates e the way the consumer will, then publishes it.
func publishEvent(opts *PublishOptions, cmd *cobra.Command, e events.Event) error {
	payload, err := events.Encode(e)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode event", err)
	}
	if _, err := events.Decode(e.Type(), payload); err != nil {
		return WrapExitError(ExitCommandError, "invalid event", err)
	}
	return publishPayload(opts, cmd, e.Type(), e.ID(), payload)
}

func publishPayload(opts *PublishOptions, cmd *cobra.Command, t events.Type, eventID string, payload []byte) error {
	resp := admin.PublishEventResponse{EventType: t.String(), EventID: eventID}

	if opts.NATSURL != "" {
		if err := publishToNATS(opts, t, payload); err != nil {
			return WrapExitError(ExitCommandError, "publish to NATS failed", err)
		}
	} else {
		client, ctx, cancel, err := newClient(opts.RootOptions)
		if err != nil {
			return err
		}
		defer cancel()

		if err := client.Post(ctx, "/api/v1/events/"+t.String(), payload, &resp); err != nil {
			return apiFailure("publish failed", err)
		}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return printJSON(out, resp)
	}
	fmt.Fprintf(out, "Published %s %s\n", resp.EventType, resp.EventID)
	return nil
}

func publishToNATS(opts *PublishOptions, t events.Type, payload []byte) error {
	cfg := eventprocessor.DefaultPublisherConfig(opts.NATSURL)
	cfg.MaxReconnects = 0

	pub, err := eventprocessor.NewPublisher(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	// Decode already succeeded, so the event id is derivable; PublishEvent
	// sets it as the broker deduplication id.
	e, err := events.Decode(t, payload)
	if err != nil {
		return err
	}
	return pub.PublishEvent(ctx, e)
}
