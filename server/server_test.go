package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/chatkernel"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/hupe1980/chatkernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireMessage struct {
	Header       iopub.Header    `json:"header"`
	ParentHeader *iopub.Header   `json:"parent_header"`
	Content      json.RawMessage `json:"content"`
}

func newTestServer(t *testing.T, provider model.Provider) (*httptest.Server, *chatkernel.ChatKernel) {
	t.Helper()
	c, err := chatkernel.New(func(o *chatkernel.Options) { o.Provider = provider })
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ts := httptest.NewServer(New(c).Handler())
	t.Cleanup(ts.Close)
	return ts, c
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func startKernel(t *testing.T, ts *httptest.Server) KernelModel {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels", `{}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[KernelModel](t, resp)
}

func readMessages(t *testing.T, resp *http.Response) []wireMessage {
	t.Helper()
	var msgs []wireMessage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m wireMessage
		require.NoError(t, json.Unmarshal(line, &m))
		msgs = append(msgs, m)
	}
	require.NoError(t, scanner.Err())
	return msgs
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))

	resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestServer_KernelSpecs(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/kernelspecs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	specs := decode[KernelSpecsResponse](t, resp)
	assert.Equal(t, "built-in-chat", specs.Default)
	require.Len(t, specs.KernelSpecs, 1)
	assert.Equal(t, "Built-in AI Chat", specs.KernelSpecs[0].DisplayName)
}

func TestServer_StartKernel(t *testing.T) {
	ts, c := newTestServer(t, model.NewMockProvider("m"))

	km := startKernel(t, ts)
	assert.Equal(t, "built-in-chat", km.Name)
	_, ok := c.Kernel(km.ID)
	assert.True(t, ok)
	assert.Nil(t, km.PromptsRemaining)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels", `{"name":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/kernels", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_KernelModelReportsPromptBudget(t *testing.T) {
	c, err := chatkernel.New(func(o *chatkernel.Options) {
		o.Provider = model.NewMockProvider("m")
		o.MaxPrompts = 3
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ts := httptest.NewServer(New(c).Handler())
	t.Cleanup(ts.Close)

	km := startKernel(t, ts)
	require.NotNil(t, km.PromptsRemaining)
	assert.Equal(t, 3, *km.PromptsRemaining)
}

func TestServer_KernelInfo(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))
	km := startKernel(t, ts)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/kernels/"+km.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info := decode[KernelInfoResponse](t, resp)
	assert.Equal(t, km.ID, info.ID)
	assert.Equal(t, "idle", info.ExecutionState)
	assert.Equal(t, "markdown", info.Info.LanguageInfo.Name)
	assert.Equal(t, "Built-in AI Chat (mock: m)", info.Info.Banner)
}

func TestServer_UnknownKernel(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels/nope/execute", `{"code":"hi"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "kernel not found")
}

func TestServer_ExecuteStreamsChunksThenReply(t *testing.T) {
	provider := model.NewMockProvider("m")
	provider.AddResponse("hi", "Hel", "lo")
	ts, _ := newTestServer(t, provider)
	km := startKernel(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels/"+km.ID+"/execute", `{"code":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	msgs := readMessages(t, resp)
	require.Len(t, msgs, 3)

	var texts []string
	for _, m := range msgs[:2] {
		assert.Equal(t, iopub.MsgStream, m.Header.MsgType)
		require.NotNil(t, m.ParentHeader)
		assert.Equal(t, "execute_request", m.ParentHeader.MsgType)
		var sc iopub.StreamContent
		require.NoError(t, json.Unmarshal(m.Content, &sc))
		assert.Equal(t, iopub.StreamStdout, sc.Name)
		texts = append(texts, sc.Text)
	}
	assert.Equal(t, []string{"Hel", "lo"}, texts)

	assert.Equal(t, "execute_reply", msgs[2].Header.MsgType)
	var reply kernel.ExecuteReply
	require.NoError(t, json.Unmarshal(msgs[2].Content, &reply))
	assert.Equal(t, kernel.StatusOK, reply.Status)
	assert.Equal(t, 1, reply.ExecutionCount)
}

func TestServer_ExecuteFailure(t *testing.T) {
	provider := model.NewMockProvider("m")
	provider.AddFailure("hi", errors.New("boom"), "partial")
	ts, _ := newTestServer(t, provider)
	km := startKernel(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels/"+km.ID+"/execute", `{"code":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := readMessages(t, resp)
	require.Len(t, msgs, 3)
	assert.Equal(t, iopub.MsgStream, msgs[0].Header.MsgType)
	assert.Equal(t, iopub.MsgError, msgs[1].Header.MsgType)

	var ec iopub.ErrorContent
	require.NoError(t, json.Unmarshal(msgs[1].Content, &ec))
	assert.Equal(t, kernel.ErrorName, ec.Ename)
	assert.Contains(t, ec.Evalue, "boom")
	assert.Equal(t, []string{}, ec.Traceback)

	var reply kernel.ExecuteReply
	require.NoError(t, json.Unmarshal(msgs[2].Content, &reply))
	assert.Equal(t, kernel.StatusError, reply.Status)
	assert.Equal(t, ec.Evalue, reply.Evalue)
}

func TestServer_ExecuteRejectsNonStringCode(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))
	km := startKernel(t, ts)

	for _, body := range []string{`{"code":42}`, `{"code":null}`, `{}`, `{"code":["a"]}`} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels/"+km.ID+"/execute", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "protocol error: code must be a string", decode[map[string]string](t, resp)["error"], body)
	}
}

func TestServer_HistoryAfterExecute(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))
	km := startKernel(t, ts)

	for _, code := range []string{"one", "two"} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/kernels/"+km.ID+"/execute", `{"code":"`+code+`"}`)
		readMessages(t, resp)
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/kernels/"+km.ID+"/history?hist_access_type=tail&n=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := decode[kernel.HistoryReply](t, resp)
	require.Len(t, reply.History, 1)
	assert.Equal(t, "two", reply.History[0][2])

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/kernels/"+km.ID+"/history?n=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ProtocolReplies(t *testing.T) {
	ts, _ := newTestServer(t, model.NewMockProvider("m"))
	km := startKernel(t, ts)
	base := ts.URL + "/api/kernels/" + km.ID

	resp := doJSON(t, http.MethodPost, base+"/is_complete", `{"code":"anything"}`)
	isc := decode[kernel.IsCompleteReply](t, resp)
	assert.Equal(t, "complete", isc.Status)

	resp = doJSON(t, http.MethodPost, base+"/complete", `{"code":"ab","cursor_pos":2}`)
	cr := decode[kernel.CompleteReply](t, resp)
	assert.Empty(t, cr.Matches)
	assert.Equal(t, 2, cr.CursorStart)

	resp = doJSON(t, http.MethodPost, base+"/inspect", `{"code":"ab","cursor_pos":1}`)
	assert.False(t, decode[kernel.InspectReply](t, resp).Found)

	resp = doJSON(t, http.MethodGet, base+"/comm_info", "")
	assert.Empty(t, decode[kernel.CommInfoReply](t, resp).Comms)

	resp = doJSON(t, http.MethodPost, base+"/interrupt", "")
	ir := decode[InterruptResponse](t, resp)
	assert.Equal(t, "ok", ir.Status)
	assert.Equal(t, 0, ir.Interrupted)
}

func TestServer_Shutdown(t *testing.T) {
	ts, c := newTestServer(t, model.NewMockProvider("m"))
	km := startKernel(t, ts)

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/kernels/"+km.ID+"?restart=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[kernel.ShutdownReply](t, resp).Restart)
	_, ok := c.Kernel(km.ID)
	assert.True(t, ok)
	assert.Nil(t, km.PromptsRemaining)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/kernels/"+km.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/kernels/"+km.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	c, err := chatkernel.New()
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(c).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
