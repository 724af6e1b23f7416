// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package eventprocessor

import (
	"errors"
)

// ErrNilPublisher is returned when attempting to create a publisher with nil input.
var ErrNilPublisher = errors.New("publisher cannot be nil")

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// ErrorCategory categorizes handler errors for routing and metrics.
type ErrorCategory int

const (
	// ErrorCategoryUnknown is the default category for unclassified errors.
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryValidation indicates a payload that can never be processed.
	ErrorCategoryValidation
	// ErrorCategoryQueue indicates the durable job queue rejected a write.
	ErrorCategoryQueue
	// ErrorCategoryConnection indicates network or broker failures.
	ErrorCategoryConnection
)

// String returns the string representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryValidation:
		return "validation"
	case ErrorCategoryQueue:
		return "queue"
	case ErrorCategoryConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// RetryableError is a transient failure. The message is nacked and redelivered.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(message string, category ErrorCategory, cause error) *RetryableError {
	return &RetryableError{Message: message, Cause: cause, Category: category}
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// PermanentError is a failure that redelivery cannot fix. The router sends the
// message to the poison topic and acknowledges it.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause, Category: ErrorCategoryValidation}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsPermanentError reports whether err is or wraps a *PermanentError.
func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRetryableError reports whether err should lead to redelivery. Anything
// that is not explicitly permanent is retried.
func IsRetryableError(err error) bool {
	return err != nil && !IsPermanentError(err)
}

// CategoryOf returns the category carried by err, if any.
func CategoryOf(err error) ErrorCategory {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Category
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Category
	}
	return ErrorCategoryUnknown
}
