// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package events

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// DecodeError reports a payload that can never become a valid event.
// It is not retryable: redelivering the same bytes yields the same error.
type DecodeError struct {
	EventType Type
	Field     string
	Reason    string
	Err       error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s: %s", e.EventType, e.Field, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", e.EventType, e.Reason)
}

// Unwrap returns the underlying parse error, if any.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator, reporting JSON field names in errors.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Decode parses and validates a broker payload for the given event type.
// Any failure is returned as a *DecodeError.
func Decode(t Type, payload []byte) (Event, error) {
	if !t.Valid() {
		return nil, &DecodeError{EventType: t, Reason: "unknown event type"}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &DecodeError{EventType: t, Reason: "empty payload"}
	}

	var ev Event
	switch t {
	case TypeChatCreated:
		ev = &ChatCreated{}
	case TypeMessageCreated:
		ev = &MessageCreated{}
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, &DecodeError{EventType: t, Reason: "malformed JSON", Err: err}
	}

	if cc, ok := ev.(*ChatCreated); ok && strings.TrimSpace(cc.ApplicationToken) == "" && cc.ApplicationToken != "" {
		return nil, &DecodeError{EventType: t, Field: "application_token", Reason: "must not be blank"}
	}

	if err := getValidator().Struct(ev); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, &DecodeError{EventType: t, Field: fe.Field(), Reason: translateTag(fe), Err: err}
		}
		return nil, &DecodeError{EventType: t, Reason: "invalid payload", Err: err}
	}

	return ev, nil
}

func translateTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
