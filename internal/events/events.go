// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package events defines the broker event contract consumed by chatcounter.
//
// Two event types are published by the upstream chat service, one per domain
// creation:
//
//	chat_created     {"application_token": "abc", "chat_id": 1, "chat_number": 1}
//	message_created  {"chat_id": 1, "message_id": 10, "message_number": 1}
//
// Every event has a stable identifier derived from its payload alone
// (never from broker delivery metadata). The identifier is the idempotency key
// recorded in the ledger, so redeliveries and republished duplicates of the
// same fact always map to the same key.
package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Type names an event type. It doubles as the broker queue (NATS subject) name.
type Type string

const (
	// TypeChatCreated is published once per chat row.
	TypeChatCreated Type = "chat_created"

	// TypeMessageCreated is published once per message row.
	TypeMessageCreated Type = "message_created"
)

// Types returns every event type the pipeline consumes.
func Types() []Type {
	return []Type{TypeChatCreated, TypeMessageCreated}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	return t == TypeChatCreated || t == TypeMessageCreated
}

// String implements fmt.Stringer.
func (t Type) String() string {
	return string(t)
}

// ParseType converts a string into a known Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Event is a decoded, validated domain-creation fact.
type Event interface {
	// Type returns the event type.
	Type() Type

	// ID returns the payload-derived idempotency key.
	ID() string
}

// ChatCreated is published after a chat row is committed.
type ChatCreated struct {
	ApplicationToken string `json:"application_token" validate:"required,max=255"`
	ChatID           int64  `json:"chat_id" validate:"required,gt=0"`
	ChatNumber       int64  `json:"chat_number" validate:"required,gt=0"`
}

// NewChatCreated builds a chat_created event.
func NewChatCreated(applicationToken string, chatID, chatNumber int64) *ChatCreated {
	return &ChatCreated{ApplicationToken: applicationToken, ChatID: chatID, ChatNumber: chatNumber}
}

// Type implements Event.
func (e *ChatCreated) Type() Type { return TypeChatCreated }

// ID returns chat_created:<application_token>:<chat_number>.
// The chat number is always the final segment, so tokens containing ':' stay unambiguous.
func (e *ChatCreated) ID() string {
	return ChatCreatedID(e.ApplicationToken, e.ChatNumber)
}

// MessageCreated is published after a message row is committed.
type MessageCreated struct {
	ChatID        int64 `json:"chat_id" validate:"required,gt=0"`
	MessageID     int64 `json:"message_id" validate:"required,gt=0"`
	MessageNumber int64 `json:"message_number" validate:"required,gt=0"`
}

// NewMessageCreated builds a message_created event.
func NewMessageCreated(chatID, messageID, messageNumber int64) *MessageCreated {
	return &MessageCreated{ChatID: chatID, MessageID: messageID, MessageNumber: messageNumber}
}

// Type implements Event.
func (e *MessageCreated) Type() Type { return TypeMessageCreated }

// ID returns message_created:<chat_id>:<message_number>.
func (e *MessageCreated) ID() string {
	return MessageCreatedID(e.ChatID, e.MessageNumber)
}

// ChatCreatedID derives the identifier of a chat_created event.
func ChatCreatedID(applicationToken string, chatNumber int64) string {
	return string(TypeChatCreated) + ":" + applicationToken + ":" + strconv.FormatInt(chatNumber, 10)
}

// MessageCreatedID derives the identifier of a message_created event.
func MessageCreatedID(chatID, messageNumber int64) string {
	return string(TypeMessageCreated) + ":" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageNumber, 10)
}

// Encode serializes an event into its broker payload.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return data, nil
}
