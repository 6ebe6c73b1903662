package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hupe1980/chatkernel/chat"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRequest_OkReply(t *testing.T) {
	f := newFixture(t)
	f.provider.AddResponse("hi", "Hel", "lo")

	reply := f.kernel.ExecuteRequest(context.Background(), ExecuteRequestContent{Code: "hi"}, nil)

	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, 1, reply.ExecutionCount)

	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","execution_count":1,"payload":[],"user_expressions":{}}`, string(raw))

	types := make([]string, 0)
	for _, m := range f.recorder.Messages() {
		types = append(types, m.Type())
	}
	assert.Equal(t, []string{"status", "execute_input", "stream", "stream", "status"}, types)

	msgs := f.recorder.Messages()
	for _, m := range msgs[1:] {
		require.NotNil(t, m.ParentHeader)
		assert.Equal(t, msgs[0].ParentHeader.MsgID, m.ParentHeader.MsgID)
	}
}

func TestExecuteRequest_ErrorReply(t *testing.T) {
	f := newFixture(t)
	f.provider.AddFailure("bad", errors.New("boom"))

	reply := f.kernel.ExecuteRequest(context.Background(), ExecuteRequestContent{Code: "bad"}, nil)

	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","execution_count":1,"ename":"Error","evalue":"boom","traceback":[]}`, string(raw))

	var decoded ExecuteReply
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "boom", decoded.Evalue)
}

func TestExecuteRequest_UsesParentFromContext(t *testing.T) {
	f := newFixture(t)
	parent := iopub.NewHeader("client", "execute_request")

	f.kernel.ExecuteRequest(iopub.WithParent(context.Background(), parent), ExecuteRequestContent{Code: "x"}, nil)

	for _, m := range f.recorder.Messages() {
		assert.Equal(t, parent.MsgID, m.ParentHeader.MsgID)
	}
}

func TestExecuteRequest_CountAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.kernel.ExecuteRequest(ctx, ExecuteRequestContent{Code: "one"}, nil)
	silent := f.kernel.ExecuteRequest(ctx, ExecuteRequestContent{Code: "quiet", Silent: true}, nil)
	reply := f.kernel.ExecuteRequest(ctx, ExecuteRequestContent{Code: "two"}, nil)

	assert.Equal(t, 1, silent.ExecutionCount)
	assert.Equal(t, 2, reply.ExecutionCount)
	assert.Equal(t, 2, f.kernel.ExecutionCount())

	hist, err := f.kernel.History(ctx, HistoryRequest{Output: true, HistAccessType: "range"})
	require.NoError(t, err)
	require.Len(t, hist.History, 2)
	assert.Equal(t, []any{f.kernel.SessionID(), 2, []any{"two", "Mock response to: two"}}, hist.History[1])

	tail, err := f.kernel.History(ctx, HistoryRequest{HistAccessType: "tail", N: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{f.kernel.SessionID(), 2, "two"}}, tail.History)

	empty, err := f.kernel.History(ctx, HistoryRequest{HistAccessType: "tail"})
	require.NoError(t, err)
	assert.Empty(t, empty.History)
	assert.NotNil(t, empty.History)
}

func TestExecuteRequest_InterruptedReply(t *testing.T) {
	f := newFixture(t)
	f.provider.AddResponse("long", "a", "b")

	reply := f.kernel.ExecuteRequest(context.Background(), ExecuteRequestContent{Code: "long"}, func(core.Chunk) {
		f.kernel.Interrupt()
	})

	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, InterruptedName, reply.Ename)
}

func TestKernelInfo(t *testing.T) {
	f := newFixture(t)

	info := f.kernel.KernelInfo()

	assert.Equal(t, "5.3", info.ProtocolVersion)
	assert.Equal(t, "built-in-chat-kernel", info.Implementation)
	assert.Equal(t, "0.1.0", info.ImplementationVersion)
	assert.Equal(t, LanguageInfo{Name: "markdown", Version: "0.0.0", Mimetype: "text/markdown", FileExtension: ".md"}, info.LanguageInfo)
	assert.Equal(t, "Built-in AI Chat (mock: mock-model)", info.Banner)
	assert.Empty(t, info.HelpLinks)
}

func TestKernelInfo_BadBannerFallsBack(t *testing.T) {
	k := New(chat.NewManager(model.NewMockProvider("m")), func(o *Options) { o.Banner = "{{ .Broken" })
	assert.Equal(t, "Built-in AI Chat", k.KernelInfo().Banner)
}

func TestStaticReplies(t *testing.T) {
	k := newFixture(t).kernel

	complete := k.Complete(CompleteRequest{Code: "abc", CursorPos: 2})
	assert.Equal(t, CompleteReply{Status: "ok", Matches: []string{}, CursorStart: 2, CursorEnd: 2, Metadata: map[string]any{}}, complete)

	assert.False(t, k.Inspect(InspectRequest{Code: "abc"}).Found)
	assert.Equal(t, IsCompleteReply{Status: "complete", Indent: ""}, k.IsComplete(IsCompleteRequest{Code: "abc"}))
	assert.Equal(t, CommInfoReply{Status: "ok", Comms: map[string]any{}}, k.CommInfo(CommInfoRequest{}))
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxPrompts = 1 })
	ctx := context.Background()

	f.kernel.ExecuteRequest(ctx, ExecuteRequestContent{Code: "x"}, nil)
	require.True(t, f.kernel.Manager().HasSession())

	reply := f.kernel.Shutdown(ShutdownRequest{Restart: true})
	assert.Equal(t, ShutdownReply{Status: "ok", Restart: true}, reply)
	assert.False(t, f.kernel.Manager().HasSession())
	assert.Equal(t, 0, f.kernel.ExecutionCount())
	assert.Equal(t, StateIdle, f.kernel.State())

	res := f.kernel.Execute(ctx, core.PromptRequest{Text: "y"}, nil)
	assert.True(t, res.IsOk(), "restart resets the prompt budget")
	assert.Equal(t, 2, f.provider.Creates())
}
