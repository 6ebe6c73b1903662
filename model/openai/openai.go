// Package openai provides a model.Provider backed by the OpenAI Chat
// Completions API. Sessions keep the conversation history client side and
// stream every reply through the SDK's server-sent events reader.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// Options configure the OpenAI provider.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey overrides OPENAI_API_KEY.
	APIKey string
	// BaseURL points the client at a compatible endpoint.
	BaseURL string
}

// Provider creates chat sessions against one OpenAI model.
type Provider struct {
	client *openai.Client
	opts   Options
}

var _ model.Provider = (*Provider)(nil)

// NewProvider creates a new OpenAI provider using the official client.
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

	client := openai.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a new OpenAI provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Provider{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Availability looks the configured model up. Authentication failures and
// unknown models are reported as unavailable; transport errors are returned.
func (p *Provider) Availability(ctx context.Context) (core.Availability, error) {
	if _, err := p.client.Models.Get(ctx, p.opts.Model); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return core.AvailabilityUnavailable, nil
			}
		}
		return "", fmt.Errorf("openai model lookup: %w", err)
	}

	return core.AvailabilityAvailable, nil
}

// Create opens a new conversation. OpenAI models never need a download, so
// opts.Monitor is not called.
func (p *Provider) Create(_ context.Context, opts model.CreateOptions) (model.Session, error) {
	temperature := p.opts.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	s := &Session{provider: p, temperature: temperature}
	if opts.SystemPrompt != "" {
		s.history = append(s.history, openai.SystemMessage(opts.SystemPrompt))
	}

	return s, nil
}

// Info returns metadata describing this provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: p.opts.Model, Provider: "openai"}
}

// Session is an OpenAI conversation. Completed turns are appended to the
// history so later prompts see earlier replies.
type Session struct {
	provider    *Provider
	temperature float64

	mu        sync.Mutex
	history   []openai.ChatCompletionMessageParamUnion
	destroyed bool
}

var _ model.Session = (*Session)(nil)

// PromptStreaming implements model.Session.
func (s *Session) PromptStreaming(ctx context.Context, text string) (model.Reader, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, errors.New("openai session destroyed")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	s.mu.Unlock()

	messages = append(messages, openai.UserMessage(text))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               s.provider.opts.Model,
		Temperature:         openai.Float(s.temperature),
		MaxCompletionTokens: openai.Int(s.provider.opts.MaxCompletionTokens),
	}

	stream := s.provider.client.Chat.Completions.NewStreaming(ctx, params)

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
	s.history = append(s.history, openai.UserMessage(prompt), openai.AssistantMessage(reply))
}

// reader adapts the SSE stream to model.Reader. A chunk may carry several
// choices; only the first choice's text is used.
type reader struct {
	session *Session
	prompt  string
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	reply   strings.Builder
	done    bool
}

func (r *reader) Read() (model.ReadResult, error) {
	if r.done {
		return model.ReadResult{Done: true}, nil
	}

	for r.stream.Next() {
		ck := r.stream.Current()
		if len(ck.Choices) == 0 {
			continue
		}
		delta := ck.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		r.reply.WriteString(delta)
		return model.ReadResult{Value: delta}, nil
	}

	if err := r.stream.Err(); err != nil {
		return model.ReadResult{}, fmt.Errorf("openai streaming error: %w", err)
	}

	r.done = true
	r.session.commit(r.prompt, r.reply.String())

	return model.ReadResult{Done: true}, nil
}

func (r *reader) ReleaseLock() {
	_ = r.stream.Close()
}
