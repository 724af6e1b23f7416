// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package events

import (
	"errors"
	"testing"
)

func TestDecodeChatCreated(t *testing.T) {
	t.Parallel()

	ev, err := Decode(TypeChatCreated, []byte(`{"application_token":"abc","chat_id":1,"chat_number":1}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	cc, ok := ev.(*ChatCreated)
	if !ok {
		t.Fatalf("Decode() returned %T, want *ChatCreated", ev)
	}
	if cc.ApplicationToken != "abc" || cc.ChatID != 1 || cc.ChatNumber != 1 {
		t.Errorf("unexpected event: %+v", cc)
	}
	if got, want := ev.ID(), "chat_created:abc:1"; got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
}

func TestDecodeMessageCreated(t *testing.T) {
	t.Parallel()

	ev, err := Decode(TypeMessageCreated, []byte(`{"chat_id":1,"message_id":10,"message_number":1,"body":"ignored"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got, want := ev.ID(), "message_created:1:1"; got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
	if ev.Type() != TypeMessageCreated {
		t.Errorf("Type() = %s, want %s", ev.Type(), TypeMessageCreated)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType Type
		payload   string
		field     string
	}{
		{"malformed json", TypeChatCreated, `{"application_token":`, ""},
		{"empty payload", TypeChatCreated, ``, ""},
		{"whitespace payload", TypeMessageCreated, "  \n", ""},
		{"json array", TypeMessageCreated, `[1,2]`, ""},
		{"null payload", TypeChatCreated, `null`, "application_token"},
		{"missing token", TypeChatCreated, `{"chat_id":1,"chat_number":1}`, "application_token"},
		{"blank token", TypeChatCreated, `{"application_token":"   ","chat_id":1,"chat_number":1}`, "application_token"},
		{"missing chat number", TypeChatCreated, `{"application_token":"abc","chat_id":1}`, "chat_number"},
		{"negative chat id", TypeMessageCreated, `{"chat_id":-1,"message_id":10,"message_number":1}`, "chat_id"},
		{"missing message number", TypeMessageCreated, `{"chat_id":1,"message_id":10}`, "message_number"},
		{"string number", TypeMessageCreated, `{"chat_id":"1","message_id":10,"message_number":1}`, ""},
		{"fractional number", TypeMessageCreated, `{"chat_id":1.5,"message_id":10,"message_number":1}`, ""},
		{"unknown type", Type("chat_deleted"), `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := Decode(tt.eventType, []byte(tt.payload))
			if err == nil {
				t.Fatalf("Decode() = %+v, want error", ev)
			}

			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %v is %T, want *DecodeError", err, err)
			}
			if !IsDecodeError(err) {
				t.Error("IsDecodeError() = false, want true")
			}
			if tt.field != "" && de.Field != tt.field {
				t.Errorf("DecodeError.Field = %q, want %q (err: %v)", de.Field, tt.field, err)
			}
		})
	}
}

func TestEventIDsAreStable(t *testing.T) {
	t.Parallel()

	a := NewChatCreated("abc", 1, 7)
	b := NewChatCreated("abc", 99, 7)
	if a.ID() != b.ID() {
		t.Errorf("chat_created ID must only depend on token and chat number: %q vs %q", a.ID(), b.ID())
	}

	m1 := NewMessageCreated(1, 10, 1)
	m2 := NewMessageCreated(1, 11, 2)
	if m1.ID() == m2.ID() {
		t.Errorf("distinct messages must have distinct IDs: %q", m1.ID())
	}

	if ChatCreatedID("a:1", 2) == ChatCreatedID("a", 12) {
		t.Error("tokens containing ':' must not collide")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := NewMessageCreated(3, 30, 4)
	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(TypeMessageCreated, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.ID() != original.ID() {
		t.Errorf("ID after round trip = %q, want %q", decoded.ID(), original.ID())
	}

	if _, err := Encode(nil); err == nil {
		t.Error("Encode(nil) should fail")
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	if got, err := ParseType(" chat_created "); err != nil || got != TypeChatCreated {
		t.Errorf("ParseType() = %q, %v", got, err)
	}
	if _, err := ParseType("chat_updated"); err == nil {
		t.Error("ParseType(chat_updated) should fail")
	}
	if len(Types()) != 2 {
		t.Errorf("Types() length = %d, want 2", len(Types()))
	}
}
