package core

import (
	"errors"
	"fmt"
	"testing"
)

type blankError struct{}

func (blankError) Error() string { return "" }

func TestModelUnavailableError_Is(t *testing.T) {
	err := fmt.Errorf("ensure session: %w", &ModelUnavailableError{Reason: ReasonUnavailable, Provider: "ollama"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected errors.Is to match ErrModelUnavailable, got %v", err)
	}

	var mue *ModelUnavailableError
	if !errors.As(err, &mue) || mue.Reason != ReasonUnavailable {
		t.Fatalf("expected unavailable reason, got %+v", mue)
	}

	if got := (&ModelUnavailableError{Reason: ReasonNoCapability}).Error(); got != "no language model capability is configured" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestStreamError_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StreamError{Cause: cause}

	if err.Error() != "connection reset" {
		t.Errorf("expected underlying message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}

	wrapped := &StreamError{Message: "open prompt stream", Cause: cause}
	if wrapped.Error() != "open prompt stream: connection reset" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestErrorMessage_Fallbacks(t *testing.T) {
	if ErrorMessage(nil) != "" {
		t.Error("nil error should have empty message")
	}
	if got := ErrorMessage(blankError{}); got != "core.blankError" {
		t.Errorf("expected type name fallback, got %q", got)
	}
	if got := MessageOf(42); got != "42" {
		t.Errorf("expected stringified value, got %q", got)
	}
	if got := MessageOf("boom"); got != "boom" {
		t.Errorf("expected string value, got %q", got)
	}
}

func TestParseAvailability(t *testing.T) {
	a, err := ParseAvailability("downloading")
	if err != nil || a != AvailabilityDownloading || !a.NeedsDownload() {
		t.Fatalf("unexpected result %q %v", a, err)
	}

	_, err = ParseAvailability("maybe")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}
