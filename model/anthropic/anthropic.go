// Package anthropic provides a model.Provider for the Anthropic Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/model"
)

// Options configures the Anthropic provider (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	// APIKey overrides ANTHROPIC_API_KEY.
	APIKey  string
	BaseURL string
}

// Provider creates Claude conversations.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Provider = (*Provider)(nil)

// NewProvider creates a new Anthropic provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a new Anthropic provider from an existing client.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Provider{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Availability reports unavailable when no API key is configured. The key
// itself is only verified by the first prompt.
func (p *Provider) Availability(_ context.Context) (core.Availability, error) {
	if p.opts.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return core.AvailabilityUnavailable, nil
	}
	return core.AvailabilityAvailable, nil
}

// Create opens a new conversation.
func (p *Provider) Create(_ context.Context, opts model.CreateOptions) (model.Session, error) {
	temperature := p.opts.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	return &Session{provider: p, system: opts.SystemPrompt, temperature: temperature}, nil
}

// Info returns metadata describing this provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: string(p.opts.Model), Provider: "anthropic"}
}

// Session is a Claude conversation with client side history.
type Session struct {
	provider    *Provider
	system      string
	temperature float64

	mu        sync.Mutex
	history   []anthropic.MessageParam
	destroyed bool
}

var _ model.Session = (*Session)(nil)

// PromptStreaming implements model.Session.
func (s *Session) PromptStreaming(ctx context.Context, text string) (model.Reader, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, errors.New("anthropic session destroyed")
	}
	messages := make([]anthropic.MessageParam, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	s.mu.Unlock()

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

	params := anthropic.MessageNewParams{
		Model:       s.provider.opts.Model,
		Messages:    messages,
		MaxTokens:   s.provider.opts.MaxTokens,
		Temperature: anthropic.Float(s.temperature),
	}
	if s.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.system}}
	}

	stream := s.provider.client.Messages.NewStreaming(ctx, params)

	return &reader{session: s, prompt: text, stream: stream}, nil
}

// Destroy drops the conversation history.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.destroyed = true
	return nil
}

func (s *Session) commit(prompt, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.history = append(s.history,
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)),
	)
}

// reader yields the text deltas of a message stream. Other events
// (message_start, content_block_start, pings) are skipped.
type reader struct {
	session *Session
	prompt  string
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	reply   strings.Builder
	done    bool
}

func (r *reader) Read() (model.ReadResult, error) {
	if r.done {
		return model.ReadResult{Done: true}, nil
	}

	for r.stream.Next() {
		event := r.stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		r.reply.WriteString(delta.Text)
		return model.ReadResult{Value: delta.Text}, nil
	}

	if err := r.stream.Err(); err != nil {
		return model.ReadResult{}, fmt.Errorf("anthropic streaming error: %w", err)
	}

	r.done = true
	r.session.commit(r.prompt, r.reply.String())

	return model.ReadResult{Done: true}, nil
}

func (r *reader) ReleaseLock() {
	_ = r.stream.Close()
}
