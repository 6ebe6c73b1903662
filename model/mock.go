package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/chatkernel/core"
)

// MockScript scripts the stream returned for one prompt: Fragments are read in
// order, then Err (if set) is returned instead of Done.
type MockScript struct {
	Fragments []string
	Err       error
}

// MockProvider is a lightweight in‑memory Provider useful for tests & examples.
// It counts session creations and reader releases so callers can assert on them.
type MockProvider struct {
	mu              sync.Mutex
	info            Info
	availability    core.Availability
	availabilityErr error
	createErr       error
	createHook      func(ctx context.Context) error
	progress        []float64
	scripts         map[string]MockScript
	creates         int
	releases        int
	destroys        int
	prompts         []string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider constructs an available MockProvider.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		info:         Info{Name: name, Provider: "mock"},
		availability: core.AvailabilityAvailable,
		scripts:      make(map[string]MockScript),
	}
}

// SetAvailability changes the reported availability.
func (p *MockProvider) SetAvailability(a core.Availability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availability = a
}

// SetAvailabilityError makes Availability fail.
func (p *MockProvider) SetAvailabilityError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availabilityErr = err
}

// SetCreateError makes Create fail (after counting the call).
func (p *MockProvider) SetCreateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// SetCreateHook installs a function run inside Create, e.g. to hold creation open.
func (p *MockProvider) SetCreateHook(fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createHook = fn
}

// SetDownloadProgress sets the progress values reported to a Monitor.
func (p *MockProvider) SetDownloadProgress(values ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append([]float64(nil), values...)
}

// AddResponse registers a deterministic fragment sequence for a prompt.
func (p *MockProvider) AddResponse(prompt string, fragments ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[prompt] = MockScript{Fragments: fragments}
}

// AddFailure registers fragments followed by a mid-stream read error.
func (p *MockProvider) AddFailure(prompt string, err error, fragments ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[prompt] = MockScript{Fragments: fragments, Err: err}
}

// Creates returns the number of Create calls.
func (p *MockProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// Releases returns the number of ReleaseLock calls across all readers.
func (p *MockProvider) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// Destroys returns the number of Destroy calls across all sessions.
func (p *MockProvider) Destroys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroys
}

// Prompts returns every prompt sent so far, in order.
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Availability implements Provider.
func (p *MockProvider) Availability(ctx context.Context) (core.Availability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.availabilityErr != nil {
		return "", p.availabilityErr
	}
	return p.availability, nil
}

// Create implements Provider. A pending download completes during Create and
// leaves the provider available.
func (p *MockProvider) Create(ctx context.Context, opts CreateOptions) (Session, error) {
	p.mu.Lock()
	p.creates++
	hook := p.createHook
	progress := append([]float64(nil), p.progress...)
	createErr := p.createErr
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if createErr != nil {
		return nil, createErr
	}
	if opts.Monitor != nil {
		for _, v := range progress {
			opts.Monitor(v)
		}
	}

	p.mu.Lock()
	if p.availability.NeedsDownload() {
		p.availability = core.AvailabilityAvailable
	}
	p.mu.Unlock()

	return &MockSession{provider: p, system: opts.SystemPrompt}, nil
}

// Info implements Provider.
func (p *MockProvider) Info() Info { return p.info }

func (p *MockProvider) script(prompt string) MockScript {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if s, ok := p.scripts[prompt]; ok {
		return s
	}
	full := fmt.Sprintf("Mock response to: %s", prompt)
	return MockScript{Fragments: strings.SplitAfter(full, " ")}
}

// MockSession is the Session returned by MockProvider.
type MockSession struct {
	provider *MockProvider
	system   string
}

// PromptStreaming implements Session.
func (s *MockSession) PromptStreaming(ctx context.Context, text string) (Reader, error) {
	return &mockReader{ctx: ctx, provider: s.provider, script: s.provider.script(text)}, nil
}

// Destroy implements Session.
func (s *MockSession) Destroy() error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	s.provider.destroys++
	return nil
}

type mockReader struct {
	ctx      context.Context
	provider *MockProvider
	script   MockScript
	pos      int
}

func (r *mockReader) Read() (ReadResult, error) {
	if err := r.ctx.Err(); err != nil {
		return ReadResult{}, err
	}
	if r.pos < len(r.script.Fragments) {
		v := r.script.Fragments[r.pos]
		r.pos++
		return ReadResult{Value: v}, nil
	}
	if r.script.Err != nil {
		return ReadResult{}, r.script.Err
	}
	return ReadResult{Done: true}, nil
}

func (r *mockReader) ReleaseLock() {
	r.provider.mu.Lock()
	defer r.provider.mu.Unlock()
	r.provider.releases++
}
