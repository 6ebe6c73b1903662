package kernel

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/history"
	"github.com/hupe1980/chatkernel/internal/util"
	"github.com/hupe1980/chatkernel/iopub"
)

// Kernel info constants.
const (
	ProtocolVersion       = iopub.ProtocolVersion
	Implementation        = "built-in-chat-kernel"
	ImplementationVersion = "0.1.0"
	DefaultBanner         = "{{.DisplayName}} ({{.Provider}}: {{.Model}})"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// InterruptedName is the ename of an execute reply for a cancelled request.
const InterruptedName = "Interrupted"

// ExecuteRequestContent is the content of an execute request.
type ExecuteRequestContent struct {
	Code         string `json:"code"`
	Silent       bool   `json:"silent,omitempty"`
	StoreHistory *bool  `json:"store_history,omitempty"`
}

func (c ExecuteRequestContent) storeHistory() bool {
	if c.Silent {
		return false
	}
	return c.StoreHistory == nil || *c.StoreHistory
}

// ExecuteReply answers an execute request. Error fields are set only when
// Status is "error"; Payload and UserExpressions only when it is "ok".
type ExecuteReply struct {
	Status          string
	ExecutionCount  int
	Payload         []any
	UserExpressions map[string]any
	Ename           string
	Evalue          string
	Traceback       []string
}

// MarshalJSON emits the ok or the error shape of the reply, keeping empty
// lists and maps as [] and {}.
func (r ExecuteReply) MarshalJSON() ([]byte, error) {
	if r.Status == StatusOK {
		return json.Marshal(struct {
			Status          string         `json:"status"`
			ExecutionCount  int            `json:"execution_count"`
			Payload         []any          `json:"payload"`
			UserExpressions map[string]any `json:"user_expressions"`
		}{r.Status, r.ExecutionCount, nonNil(r.Payload), nonNilMap(r.UserExpressions)})
	}
	traceback := r.Traceback
	if traceback == nil {
		traceback = []string{}
	}
	return json.Marshal(struct {
		Status         string   `json:"status"`
		ExecutionCount int      `json:"execution_count"`
		Ename          string   `json:"ename"`
		Evalue         string   `json:"evalue"`
		Traceback      []string `json:"traceback"`
	}{r.Status, r.ExecutionCount, r.Ename, r.Evalue, traceback})
}

// UnmarshalJSON accepts both shapes.
func (r *ExecuteReply) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status          string         `json:"status"`
		ExecutionCount  int            `json:"execution_count"`
		Payload         []any          `json:"payload"`
		UserExpressions map[string]any `json:"user_expressions"`
		Ename           string         `json:"ename"`
		Evalue          string         `json:"evalue"`
		Traceback       []string       `json:"traceback"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ExecuteReply(raw)
	return nil
}

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// ExecuteRequest runs content.Code as a prompt. It brackets the execution
// with busy/idle status messages, increments the execution count (unless
// silent) and records the request in the history store.
func (k *Kernel) ExecuteRequest(ctx context.Context, content ExecuteRequestContent, onChunk func(core.Chunk)) ExecuteReply {
	parent := iopub.ParentFrom(ctx)
	if parent == nil {
		h := iopub.NewHeader(k.opts.SessionID, "execute_request")
		parent = &h
		ctx = iopub.WithParent(ctx, h)
	}

	count := int(k.executionCount.Load())
	if !content.Silent {
		count = int(k.executionCount.Add(1))
	}

	k.publish(func(c *iopub.Channel) error { return c.Status(ctx, parent, iopub.StateBusy) })
	if !content.Silent {
		k.publish(func(c *iopub.Channel) error { return c.ExecuteInput(ctx, parent, content.Code, count) })
	}

	result := k.Execute(ctx, core.PromptRequest{Text: content.Code}, onChunk)

	k.publish(func(c *iopub.Channel) error {
		return c.Status(context.WithoutCancel(ctx), parent, iopub.StateIdle)
	})

	if content.storeHistory() {
		entry := history.Entry{
			SessionID:      k.opts.SessionID,
			ExecutionCount: count,
			Input:          content.Code,
			Output:         result.FullText,
			Status:         result.Status,
		}
		if err := k.history.Append(context.WithoutCancel(ctx), entry); err != nil {
			k.logger.Warn("record history", "error", err)
		}
	}

	return replyFor(result, count)
}

func replyFor(result core.ExecutionResult, count int) ExecuteReply {
	switch result.Status {
	case core.ResultOk:
		return ExecuteReply{
			Status:          StatusOK,
			ExecutionCount:  count,
			Payload:         []any{},
			UserExpressions: map[string]any{},
		}
	case core.ResultCancelled:
		return ExecuteReply{
			Status:         StatusError,
			ExecutionCount: count,
			Ename:          InterruptedName,
			Evalue:         result.Message,
			Traceback:      []string{},
		}
	default:
		return ExecuteReply{
			Status:         StatusError,
			ExecutionCount: count,
			Ename:          ErrorName,
			Evalue:         result.Message,
			Traceback:      []string{},
		}
	}
}

func (k *Kernel) publish(fn func(c *iopub.Channel) error) {
	if err := fn(k.channel); err != nil {
		k.logger.Warn("publish kernel output", "error", err)
	}
}

// LanguageInfo describes the kernel's input language.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Mimetype      string `json:"mimetype"`
	FileExtension string `json:"file_extension"`
}

// HelpLink is a link shown in the frontend's help menu.
type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// KernelInfoReply answers a kernel info request.
type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	HelpLinks             []HelpLink   `json:"help_links"`
}

// KernelInfo describes the kernel. The banner template sees the spec's
// DisplayName and Name plus the provider's Provider and Model.
func (k *Kernel) KernelInfo() KernelInfoReply {
	data := map[string]any{
		"DisplayName": k.opts.Spec.DisplayName,
		"Name":        k.opts.Spec.Name,
	}
	if p := k.manager.Provider(); p != nil {
		info := p.Info()
		data["Provider"] = info.Provider
		data["Model"] = info.Name
	}

	banner, err := util.RenderTemplate(k.opts.Banner, data)
	if err != nil {
		k.logger.Warn("render banner", "error", err)
		banner = k.opts.Spec.DisplayName
	}

	return KernelInfoReply{
		Status:                StatusOK,
		ProtocolVersion:       ProtocolVersion,
		Implementation:        Implementation,
		ImplementationVersion: ImplementationVersion,
		LanguageInfo: LanguageInfo{
			Name:          "markdown",
			Version:       "0.0.0",
			Mimetype:      "text/markdown",
			FileExtension: ".md",
		},
		Banner:    banner,
		HelpLinks: []HelpLink{},
	}
}

// CompleteRequest asks for completions at CursorPos.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

// CompleteReply answers a complete request.
type CompleteReply struct {
	Status      string         `json:"status"`
	Matches     []string       `json:"matches"`
	CursorStart int            `json:"cursor_start"`
	CursorEnd   int            `json:"cursor_end"`
	Metadata    map[string]any `json:"metadata"`
}

// Complete never offers completions.
func (k *Kernel) Complete(req CompleteRequest) CompleteReply {
	return CompleteReply{
		Status:      StatusOK,
		Matches:     []string{},
		CursorStart: req.CursorPos,
		CursorEnd:   req.CursorPos,
		Metadata:    map[string]any{},
	}
}

// InspectRequest asks for documentation at CursorPos.
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

// InspectReply answers an inspect request.
type InspectReply struct {
	Status   string         `json:"status"`
	Found    bool           `json:"found"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// Inspect never finds anything.
func (k *Kernel) Inspect(InspectRequest) InspectReply {
	return InspectReply{Status: StatusOK, Found: false, Data: map[string]any{}, Metadata: map[string]any{}}
}

// IsCompleteRequest asks whether Code is ready to execute.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

// IsCompleteReply answers an is-complete request.
type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent"`
}

// IsComplete reports every prompt as complete.
func (k *Kernel) IsComplete(IsCompleteRequest) IsCompleteReply {
	return IsCompleteReply{Status: "complete", Indent: ""}
}

// CommInfoRequest lists comms, optionally filtered by target.
type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

// CommInfoReply answers a comm info request.
type CommInfoReply struct {
	Status string         `json:"status"`
	Comms  map[string]any `json:"comms"`
}

// CommInfo reports no open comms.
func (k *Kernel) CommInfo(CommInfoRequest) CommInfoReply {
	return CommInfoReply{Status: StatusOK, Comms: map[string]any{}}
}

// HistoryRequest asks for past executions. HistAccessType "tail" returns the
// last N entries; other access types return the whole session.
type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	N              int    `json:"n,omitempty"`
}

// HistoryReply answers a history request. Each item is
// [session, execution_count, input] or, with Output set,
// [session, execution_count, [input, output]].
type HistoryReply struct {
	Status  string  `json:"status"`
	History [][]any `json:"history"`
}

// History lists this kernel's executions from the history store. A tail
// request returns the last N entries, none when N is zero.
func (k *Kernel) History(ctx context.Context, req HistoryRequest) (HistoryReply, error) {
	limit := 0
	if req.HistAccessType == "tail" {
		if req.N <= 0 {
			return HistoryReply{Status: StatusOK, History: [][]any{}}, nil
		}
		limit = req.N
	}

	entries, err := k.history.List(ctx, k.opts.SessionID, limit)
	if err != nil {
		return HistoryReply{}, err
	}

	items := make([][]any, 0, len(entries))
	for _, e := range entries {
		if req.Output {
			items = append(items, []any{e.SessionID, e.ExecutionCount, []any{e.Input, e.Output}})
			continue
		}
		items = append(items, []any{e.SessionID, e.ExecutionCount, e.Input})
	}

	return HistoryReply{Status: StatusOK, History: items}, nil
}

// ShutdownRequest stops or restarts the kernel.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

// ShutdownReply answers a shutdown request.
type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

// Shutdown interrupts running executions and drops the model session. A
// restart also resets the execution count and prompt budget.
func (k *Kernel) Shutdown(req ShutdownRequest) ShutdownReply {
	k.Interrupt()
	k.manager.Invalidate()
	if req.Restart {
		k.executionCount.Store(0)
		k.limiter.Reset()
		k.setState(StateIdle)
	}
	k.logger.Info("kernel shutdown", "restart", req.Restart)
	return ShutdownReply{Status: StatusOK, Restart: req.Restart}
}
