// Package ollama provides a model.Provider backed by a local Ollama server.
// Missing models are pulled on session creation and the pull progress is
// reported through model.CreateOptions.Monitor.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/model"
)

// Options configure the Ollama provider.
type Options struct {
	// Host defaults to OLLAMA_HOST or http://localhost:11434.
	Host        string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
}

// Provider talks to the Ollama HTTP API.
type Provider struct {
	opts    Options
	baseURL string
	client  *http.Client
	pulling atomic.Bool
}

var _ model.Provider = (*Provider)(nil)

// NewProvider creates an Ollama provider.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Host:        os.Getenv("OLLAMA_HOST"),
		Model:       "llama3.2",
		Temperature: 0.7,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Host == "" {
		opts.Host = "http://localhost:11434"
	}

	client := opts.HTTPClient
	if client == nil {
		// no client timeout: replies are streamed for as long as the model talks
		client = &http.Client{}
	}

	return &Provider{
		opts:    opts,
		baseURL: strings.TrimRight(opts.Host, "/"),
		client:  client,
	}
}

// Info returns metadata describing this provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: p.opts.Model, Provider: "ollama"}
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Availability lists the local models. An unreachable server is reported as
// unavailable; a model that is not installed yet is downloadable, or
// downloading while this provider is pulling it.
func (p *Provider) Availability(ctx context.Context) (core.Availability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return core.AvailabilityUnavailable, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error: %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	for _, m := range tags.Models {
		if p.matches(m.Name) || p.matches(m.Model) {
			return core.AvailabilityAvailable, nil
		}
	}

	if p.pulling.Load() {
		return core.AvailabilityDownloading, nil
	}

	return core.AvailabilityDownloadable, nil
}

func (p *Provider) matches(name string) bool {
	return name == p.opts.Model || name == p.opts.Model+":latest"
}

// Create pulls the model first when the caller observed a pending download.
func (p *Provider) Create(ctx context.Context, opts model.CreateOptions) (model.Session, error) {
	if opts.Monitor != nil {
		if err := p.pull(ctx, opts.Monitor); err != nil {
			return nil, err
		}
	}

	temperature := p.opts.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	s := &Session{provider: p, temperature: temperature}
	if opts.SystemPrompt != "" {
		s.history = append(s.history, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}

	return s, nil
}

type pullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

func (p *Provider) pull(ctx context.Context, monitor model.ProgressFunc) error {
	p.pulling.Store(true)
	defer p.pulling.Store(false)

	resp, err := p.post(ctx, "/api/pull", map[string]any{"model": p.opts.Model, "stream": true})
	if err != nil {
		return fmt.Errorf("pull %s: %w", p.opts.Model, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var ev pullProgress
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode pull progress: %w", err)
		}
		if ev.Error != "" {
			return fmt.Errorf("pull %s: %s", p.opts.Model, ev.Error)
		}
		if ev.Total > 0 {
			monitor(float64(ev.Completed) / float64(ev.Total))
		}
		if ev.Status == "success" {
			monitor(1)
			return nil
		}
	}

	return fmt.Errorf("pull %s: stream ended before success", p.opts.Model)
}

func (p *Provider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// Session is an Ollama conversation with client side history.
type Session struct {
	provider    *Provider
	temperature float64

	mu        sync.Mutex
	history   []chatMessage
	destroyed bool
}

var _ model.Session = (*Session)(nil)

// PromptStreaming implements model.Session.
func (s *Session) PromptStreaming(ctx context.Context, text string) (model.Reader, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, errors.New("ollama session destroyed")
	}
	messages := make([]chatMessage, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	s.mu.Unlock()

	messages = append(messages, chatMessage{Role: "user", Content: text})

	resp, err := s.provider.post(ctx, "/api/chat", chatRequest{
		Model:    s.provider.opts.Model,
		Messages: messages,
		Stream:   true,
		Options:  map[string]any{"temperature": s.temperature},
	})
	if err != nil {
		return nil, err
	}

	return &reader{session: s, prompt: text, body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
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
		chatMessage{Role: "user", Content: prompt},
		chatMessage{Role: "assistant", Content: reply},
	)
}

// reader decodes the NDJSON chat stream line by line.
type reader struct {
	session *Session
	prompt  string
	body    io.ReadCloser
	dec     *json.Decoder
	reply   strings.Builder
	done    bool
}

func (r *reader) Read() (model.ReadResult, error) {
	if r.done {
		return model.ReadResult{Done: true}, nil
	}

	for {
		var ev chatResponse
		if err := r.dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return model.ReadResult{}, errors.New("ollama stream ended before done")
			}
			return model.ReadResult{}, fmt.Errorf("decode chat stream: %w", err)
		}
		if ev.Error != "" {
			return model.ReadResult{}, errors.New(ev.Error)
		}
		if ev.Message.Content != "" {
			r.reply.WriteString(ev.Message.Content)
			if ev.Done {
				r.finish()
			}
			return model.ReadResult{Value: ev.Message.Content}, nil
		}
		if ev.Done {
			r.finish()
			return model.ReadResult{Done: true}, nil
		}
	}
}

func (r *reader) finish() {
	r.done = true
	r.session.commit(r.prompt, r.reply.String())
}

func (r *reader) ReleaseLock() {
	_ = r.body.Close()
}
