package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	bodies   []map[string]any
	deltas   []string
	modelErr int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		if f.modelErr != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.modelErr)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"gpt-4o-mini","object":"model","created":1,"owned_by":"openai"}`)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range f.deltas {
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":null}]}\n\n", content)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeAPI) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewProvider(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
	})
}

func drain(t *testing.T, r model.Reader) string {
	t.Helper()
	defer r.ReleaseLock()

	var sb strings.Builder
	for {
		res, err := r.Read()
		require.NoError(t, err)
		if res.Done {
			return sb.String()
		}
		sb.WriteString(res.Value)
	}
}

func TestProvider_Availability(t *testing.T) {
	f := &fakeAPI{}
	p := newTestProvider(t, f)

	a, err := p.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.AvailabilityAvailable, a)

	f.modelErr = http.StatusNotFound
	a, err = p.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.AvailabilityUnavailable, a)
}

func TestSession_StreamsAndKeepsHistory(t *testing.T) {
	f := &fakeAPI{deltas: []string{"Hel", "lo"}}
	p := newTestProvider(t, f)

	s, err := p.Create(context.Background(), model.CreateOptions{SystemPrompt: "be brief"})
	require.NoError(t, err)

	r, err := s.PromptStreaming(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", drain(t, r))

	r, err = s.PromptStreaming(context.Background(), "again")
	require.NoError(t, err)
	drain(t, r)

	require.Len(t, f.bodies, 2)
	messages, ok := f.bodies[1]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 4)

	roles := make([]string, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestSession_DestroyedRejectsPrompts(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{})

	s, err := p.Create(context.Background(), model.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Destroy())

	_, err = s.PromptStreaming(context.Background(), "hi")
	assert.Error(t, err)
}

func TestProvider_Info(t *testing.T) {
	p := NewProvider(func(o *Options) { o.Model = "gpt-4.1" })
	assert.Equal(t, model.Info{Name: "gpt-4.1", Provider: "openai"}, p.Info())
}
