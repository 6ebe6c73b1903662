package model

import (
	"context"

	"github.com/hupe1980/chatkernel/core"
)

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "ollama", "mock", etc.
}

// ProgressFunc receives model download progress in [0,1].
type ProgressFunc func(loaded float64)

// CreateOptions configure a new Session.
type CreateOptions struct {
	// SystemPrompt is sent ahead of every conversation (optional).
	SystemPrompt string
	// Temperature overrides the provider default when > 0.
	Temperature float64
	// Monitor is set by the caller when availability reported a pending
	// download. Providers report progress through it best-effort.
	Monitor ProgressFunc
}

// Provider is the injected model capability. A nil Provider means the
// capability is absent.
type Provider interface {
	// Availability reports whether a session can be created right now.
	Availability(ctx context.Context) (core.Availability, error)

	// Create opens a new conversation. It may block while a model download completes.
	Create(ctx context.Context, opts CreateOptions) (Session, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// Session is a stateful conversation with a model. Implementations must be
// comparable (pointer receivers) and safe for sequential prompts.
type Session interface {
	// PromptStreaming opens a fresh, non-restartable stream of text fragments.
	// The returned Reader is bound to ctx.
	PromptStreaming(ctx context.Context, text string) (Reader, error)

	// Destroy releases provider side resources held by the session.
	Destroy() error
}

// ReadResult is one pull from a Reader.
type ReadResult struct {
	Done  bool
	Value string
}

// Reader pulls fragments from an open stream. Read returns Done once the
// stream is exhausted; ReleaseLock frees the underlying stream and must be
// called exactly once by the consumer.
type Reader interface {
	Read() (ReadResult, error)
	ReleaseLock()
}
