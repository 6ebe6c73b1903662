package chatkernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/hupe1980/chatkernel/config"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/hupe1980/chatkernel/logging"
	"github.com/hupe1980/chatkernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatKernel(t *testing.T, provider model.Provider, optFns ...func(o *Options)) *ChatKernel {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) { o.Provider = provider }}, optFns...)
	c, err := New(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestChatKernel_StartAndExecute(t *testing.T) {
	provider := model.NewMockProvider("m")
	provider.AddResponse("hi", "Hel", "lo")
	rec := iopub.NewRecorder()

	c := newTestChatKernel(t, provider, func(o *Options) { o.Publisher = rec })

	k, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, kernel.DefaultSpec().Name, k.Spec().Name)

	got, ok := c.Kernel(k.ID())
	require.True(t, ok)
	assert.Same(t, k, got)

	reply := k.ExecuteRequest(context.Background(), kernel.ExecuteRequestContent{Code: "hi"}, nil)
	assert.Equal(t, kernel.StatusOK, reply.Status)
	assert.Equal(t, 1, reply.ExecutionCount)

	streams := rec.ByType(iopub.MsgStream)
	require.Len(t, streams, 2)
}

func TestChatKernel_KernelsHaveOwnSessions(t *testing.T) {
	provider := model.NewMockProvider("m")
	c := newTestChatKernel(t, provider)

	k1, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	k2, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	assert.NotEqual(t, k1.ID(), k2.ID())
	assert.Len(t, c.Kernels(), 2)

	for _, k := range []*kernel.Kernel{k1, k2, k1} {
		res := k.Execute(context.Background(), core.PromptRequest{Text: "x"}, nil)
		require.True(t, res.IsOk())
	}
	assert.Equal(t, 2, provider.Creates())
}

func TestChatKernel_UnknownSpec(t *testing.T) {
	c := newTestChatKernel(t, model.NewMockProvider("m"))

	_, err := c.StartKernel(context.Background(), "missing")
	var pe *core.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestChatKernel_ShutdownKernel(t *testing.T) {
	c := newTestChatKernel(t, model.NewMockProvider("m"))

	k, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	k.Execute(context.Background(), core.PromptRequest{Text: "x"}, nil)

	reply, err := c.ShutdownKernel(k.ID(), true)
	require.NoError(t, err)
	assert.True(t, reply.Restart)
	_, ok := c.Kernel(k.ID())
	assert.True(t, ok, "restart keeps the kernel")
	assert.False(t, k.Manager().HasSession())

	_, err = c.ShutdownKernel(k.ID(), false)
	require.NoError(t, err)
	_, ok = c.Kernel(k.ID())
	assert.False(t, ok)

	_, err = c.ShutdownKernel(k.ID(), false)
	assert.ErrorIs(t, err, ErrKernelNotFound)
}

func TestChatKernel_NilProvider(t *testing.T) {
	c := newTestChatKernel(t, nil)

	k, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)

	res := k.Execute(context.Background(), core.PromptRequest{Text: "x"}, nil)
	assert.Equal(t, core.ResultError, res.Status)
	assert.Equal(t, "no language model capability is configured", res.Message)
}

func TestChatKernel_CloseDropsKernels(t *testing.T) {
	c, err := New(func(o *Options) { o.Provider = model.NewMockProvider("m") })
	require.NoError(t, err)

	_, err = c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Empty(t, c.Kernels())
}

func TestFromConfig_SQLiteHistory(t *testing.T) {
	cfg := config.Default()
	cfg.History.Driver = config.HistorySQLite
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")
	cfg.Kernel.SpecName = "chat"
	cfg.Kernel.DisplayName = "Chat"
	cfg.Logging.Level = "error"

	c, err := FromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "chat", c.DefaultSpecName())

	k, err := c.StartKernel(context.Background(), "chat")
	require.NoError(t, err)

	reply := k.ExecuteRequest(context.Background(), kernel.ExecuteRequestContent{Code: "ping"}, nil)
	require.Equal(t, kernel.StatusOK, reply.Status)

	hist, err := k.History(context.Background(), kernel.HistoryRequest{Output: true})
	require.NoError(t, err)
	require.Len(t, hist.History, 1)
	assert.Equal(t, []any{"ping", "Mock response to: ping"}, hist.History[0][2])

	info := k.KernelInfo()
	assert.Equal(t, "Chat (mock: mock-model)", info.Banner)
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{config.ProviderMock, config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama} {
		p, err := NewProvider(config.ProviderConfig{Name: name, Model: "m", APIKey: "k"})
		require.NoError(t, err, name)
		assert.Equal(t, "m", p.Info().Name, name)
	}

	_, err := NewProvider(config.ProviderConfig{Name: "gemini"})
	assert.Error(t, err)
}

func TestNewPublisher_NoneConfigured(t *testing.T) {
	p, err := NewPublisher(context.Background(), config.PublishersConfig{})
	require.NoError(t, err)
	assert.IsType(t, iopub.Discard{}, p)
}

func TestNewHistory_UnknownDriver(t *testing.T) {
	_, err := NewHistory(context.Background(), config.HistoryConfig{Driver: "postgres"})
	assert.Error(t, err)
}

func TestChatKernel_ChatLogsCarrySessionID(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf

	c, err := New(func(o *Options) {
		o.Provider = model.NewMockProvider("mock-model")
		o.Logger = logging.NewLogger(cfg)
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	k, err := c.StartKernel(context.Background(), "")
	require.NoError(t, err)
	require.True(t, k.Execute(context.Background(), core.PromptRequest{Text: "hi"}, nil).IsOk())

	var found bool
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		if rec["msg"] != "model session created" {
			continue
		}
		found = true
		assert.Equal(t, "chat", rec["component"])
		assert.Equal(t, k.ID(), rec["kernel_id"])
		assert.Equal(t, k.SessionID(), rec["session_id"])
	}
	assert.True(t, found)
}
