package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*KernelLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = buf
	return NewLogger(cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestKernelLogger_ContextAttributes(t *testing.T) {
	base, buf := newBufferLogger(LogLevelDebug)
	l := base.WithComponent("chat").WithKernel("k-1", "s-1").WithContext("provider", "mock")

	l.Info("session created", "model", "mock-model")

	recs := decodeLines(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "session created", recs[0]["msg"])
	assert.Equal(t, "chat", recs[0]["component"])
	assert.Equal(t, "k-1", recs[0]["kernel_id"])
	assert.Equal(t, "s-1", recs[0]["session_id"])
	assert.Equal(t, "mock", recs[0]["provider"])
	assert.Equal(t, "mock-model", recs[0]["model"])

	// clones must not leak context back into the parent
	base.Info("plain")
	recs = decodeLines(t, buf)
	require.Len(t, recs, 2)
	assert.NotContains(t, recs[1], "component")
}

func TestKernelLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.LogDownloadProgress("m", 0.5)
	l.Warn("shown")

	recs := decodeLines(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "shown", recs[0]["msg"])
}

func TestKernelLogger_LogModelCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogModelCall("gpt", 3, 20*time.Millisecond, true, nil)
	l.LogModelCall("gpt", 1, time.Millisecond, false, errors.New("reset"))

	recs := decodeLines(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "model call completed", recs[0]["msg"])
	assert.Equal(t, float64(3), recs[0]["chunk_count"])
	assert.Equal(t, "model call failed", recs[1]["msg"])
	assert.Equal(t, "ERROR", recs[1]["level"])
	assert.Equal(t, "reset", recs[1]["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	l, _ := newBufferLogger(LogLevelInfo)
	assert.Same(t, l, OrNoOp(l))
}
