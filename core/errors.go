package core

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable matches every ModelUnavailableError via errors.Is.
	ErrModelUnavailable = errors.New("language model unavailable")
	// ErrCancelled is returned when an execution was interrupted by its caller.
	ErrCancelled = errors.New("execution cancelled")
	// ErrPromptLimit is returned once a kernel exhausted its prompt budget.
	ErrPromptLimit = errors.New("prompt limit exceeded")
)

// UnavailableReason distinguishes the two causes of ModelUnavailableError.
type UnavailableReason string

const (
	// ReasonNoCapability means no model provider is configured at all.
	ReasonNoCapability UnavailableReason = "no_capability"
	// ReasonUnavailable means the provider reported the model as unavailable.
	ReasonUnavailable UnavailableReason = "unavailable"
)

// ModelUnavailableError reports that no session can be created. It is not
// retryable without user action (configuring or enabling a provider).
type ModelUnavailableError struct {
	Reason   UnavailableReason
	Provider string
}

func (e *ModelUnavailableError) Error() string {
	if e.Reason == ReasonNoCapability {
		return "no language model capability is configured"
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s language model is not available", e.Provider)
	}
	return "language model is not available"
}

// Is allows errors.Is(err, ErrModelUnavailable).
func (e *ModelUnavailableError) Is(target error) bool { return target == ErrModelUnavailable }

// StreamError wraps a failure that happened while reading a model stream.
// The cause is preserved for errors.Is / errors.As.
type StreamError struct {
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

// Unwrap returns the underlying stream failure.
func (e *StreamError) Unwrap() error { return e.Cause }

// ProtocolError reports a request or response with an unexpected shape.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Message }

// ErrorMessage returns a human readable message for err, falling back to the
// error's type when it carries no text.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// MessageOf stringifies an arbitrary failure value, e.g. a recovered panic.
func MessageOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown error"
	case error:
		return ErrorMessage(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
