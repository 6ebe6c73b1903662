package testutil

import (
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/model"
)

// ProviderBuilder scripts a model.MockProvider with fluent chaining.
// Example:
//
//	p := NewProviderBuilder("m").Reply("hi", "Hel", "lo").Availability(core.AvailabilityDownloadable).Build()
type ProviderBuilder struct {
	p *model.MockProvider
}

// NewProviderBuilder starts a builder for an available mock model.
func NewProviderBuilder(name string) *ProviderBuilder {
	return &ProviderBuilder{p: model.NewMockProvider(name)}
}

// Reply streams fragments for prompt (chainable).
func (b *ProviderBuilder) Reply(prompt string, fragments ...string) *ProviderBuilder {
	b.p.AddResponse(prompt, fragments...)
	return b
}

// Fail streams fragments for prompt and then fails with err (chainable).
func (b *ProviderBuilder) Fail(prompt string, err error, fragments ...string) *ProviderBuilder {
	b.p.AddFailure(prompt, err, fragments...)
	return b
}

// Availability sets the reported availability (chainable).
func (b *ProviderBuilder) Availability(a core.Availability) *ProviderBuilder {
	b.p.SetAvailability(a)
	return b
}

// Progress sets the download progress reported during creation (chainable).
func (b *ProviderBuilder) Progress(values ...float64) *ProviderBuilder {
	b.p.SetDownloadProgress(values...)
	return b
}

// Build returns the scripted provider.
func (b *ProviderBuilder) Build() *model.MockProvider { return b.p }
