package handler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error codes carried in error replies.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeTimeout            = "TIMEOUT"
	CodeCancelled          = "CANCELLED"
	CodeUnexpected         = "UNEXPECTED_ERROR"
)

// ErrNotConfigured is returned when the configuration is read before init.
var ErrNotConfigured = errors.New("dispatcher not configured")

// CallbackNotFoundError is returned when nothing is registered for a
// category and name (and method, for handlers).
type CallbackNotFoundError struct {
	Category Category
	Name     string
	Method   string
}

func (e *CallbackNotFoundError) Error() string {
	if e.Category == CategoryHandler {
		return fmt.Sprintf("callback not found: %s %q (%s)", e.Category, e.Name, e.Method)
	}
	return fmt.Sprintf("callback not found: %s %q", e.Category, e.Name)
}

// MalformedBodyError is returned when a handler body cannot be decoded as
// base64, JSON or form data.
type MalformedBodyError struct {
	Reason string
	Err    error
}

func (e *MalformedBodyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed body: %s: %v", e.Reason, e.Err)
	}
	return "malformed body: " + e.Reason
}

func (e *MalformedBodyError) Unwrap() error { return e.Err }

// MissingHeaderError is returned when form parsing needs a header the
// payload does not carry.
type MissingHeaderError struct {
	Header string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("missing header: %s", e.Header)
}

// InvalidEnvelopeError is returned for envelopes that cannot be routed:
// undecodable JSON, an unknown kind or a missing callback name.
type InvalidEnvelopeError struct {
	Reason string
	Err    error
}

func (e *InvalidEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid envelope: %s: %v", e.Reason, e.Err)
	}
	return "invalid envelope: " + e.Reason
}

func (e *InvalidEnvelopeError) Unwrap() error { return e.Err }

// TimeoutError is returned by TimeoutMiddleware when a dispatch outlives its
// deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatch timed out after %v", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// PanicError is returned by RecoveryMiddleware when a callback panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// ErrorName returns the wire name of err. Errors may choose their own name
// by implementing ErrorName() string; everything else is "Error".
func ErrorName(err error) string {
	var (
		notFound  *CallbackNotFoundError
		malformed *MalformedBodyError
		missing   *MissingHeaderError
		invalid   *InvalidEnvelopeError
		timeout   *TimeoutError
		panicErr  *PanicError
		named     interface{ ErrorName() string }
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &notFound):
		return "CallbackNotFoundError"
	case errors.As(err, &malformed):
		return "MalformedBodyError"
	case errors.As(err, &missing):
		return "MissingHeaderError"
	case errors.As(err, &invalid):
		return "InvalidEnvelopeError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &panicErr):
		return "PanicError"
	case errors.Is(err, ErrNotConfigured):
		return "NotConfiguredError"
	case errors.As(err, &named):
		return named.ErrorName()
	}
	return "Error"
}

// ErrorCode maps err to one of the Code* constants.
func ErrorCode(err error) string {
	var (
		notFound  *CallbackNotFoundError
		malformed *MalformedBodyError
		missing   *MissingHeaderError
		invalid   *InvalidEnvelopeError
	)

	switch {
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &malformed), errors.As(err, &missing), errors.As(err, &invalid):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotConfigured):
		return CodeFailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeUnexpected
}
