package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/kernel"
)

const (
	msgExecuteRequest = "execute_request"
	msgExecuteReply   = "execute_reply"
)

// StartKernelRequest is the body of POST /api/kernels.
type StartKernelRequest struct {
	Name string `json:"name"`
}

// KernelModel describes a running kernel.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	ExecutionCount int    `json:"execution_count"`
	// PromptsRemaining is omitted for kernels without a prompt budget.
	PromptsRemaining *int `json:"prompts_remaining,omitempty"`
}

// KernelSpecsResponse is the body of GET /api/kernelspecs.
type KernelSpecsResponse struct {
	Default     string        `json:"default"`
	KernelSpecs []kernel.Spec `json:"kernelspecs"`
}

// KernelInfoResponse is the body of GET /api/kernels/{id}.
type KernelInfoResponse struct {
	KernelModel
	Info kernel.KernelInfoReply `json:"info"`
}

// InterruptResponse is the body of POST /api/kernels/{id}/interrupt.
type InterruptResponse struct {
	Status      string `json:"status"`
	Interrupted int    `json:"interrupted"`
}

type executeBody struct {
	Code         json.RawMessage `json:"code"`
	Silent       bool            `json:"silent"`
	StoreHistory *bool           `json:"store_history"`
}

func modelOf(k *kernel.Kernel) KernelModel {
	m := KernelModel{
		ID:             k.ID(),
		Name:           k.Spec().Name,
		ExecutionState: k.State().String(),
		ExecutionCount: k.ExecutionCount(),
	}
	if n := k.PromptsRemaining(); n >= 0 {
		m.PromptsRemaining = &n
	}
	return m
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) kernelSpecs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, KernelSpecsResponse{
		Default:     s.manager.DefaultSpecName(),
		KernelSpecs: s.manager.Specs(),
	})
}

func (s *Server) startKernel(w http.ResponseWriter, r *http.Request) {
	var req StartKernelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	k, err := s.manager.StartKernel(r.Context(), req.Name)
	if err != nil {
		var pe *core.ProtocolError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "start kernel: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, modelOf(k))
}

func (s *Server) kernelInfo(w http.ResponseWriter, r *http.Request) {
	k := kernelFrom(r)
	writeJSON(w, http.StatusOK, KernelInfoResponse{KernelModel: modelOf(k), Info: k.KernelInfo()})
}

func (s *Server) shutdownKernel(w http.ResponseWriter, r *http.Request) {
	k := kernelFrom(r)
	restart, _ := strconv.ParseBool(r.URL.Query().Get("restart"))

	reply, err := s.manager.ShutdownKernel(k.ID(), restart)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// execute streams the request's output as application/x-ndjson: one stream
// message per chunk, an error message if the execution failed, and finally
// the execute_reply.
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	k := kernelFrom(r)

	var body executeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var code string
	if len(body.Code) == 0 || bytes.Equal(body.Code, []byte("null")) || json.Unmarshal(body.Code, &code) != nil {
		writeError(w, http.StatusBadRequest, (&core.ProtocolError{Message: "code must be a string"}).Error())
		return
	}

	parent := iopub.NewHeader(k.SessionID(), msgExecuteRequest)
	ctx := iopub.WithParent(r.Context(), parent)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	emit := func(msgType string, content any) {
		if err := enc.Encode(iopub.NewMessage(k.SessionID(), msgType, &parent, content)); err != nil {
			s.logger.Debug("write execute output", "error", err)
			return
		}
		_ = rc.Flush()
	}

	reply := k.ExecuteRequest(ctx, kernel.ExecuteRequestContent{
		Code:         code,
		Silent:       body.Silent,
		StoreHistory: body.StoreHistory,
	}, func(c core.Chunk) {
		emit(iopub.MsgStream, iopub.StreamContent{Name: iopub.StreamStdout, Text: c.Text})
	})

	if reply.Status == kernel.StatusError && reply.Ename == kernel.ErrorName {
		emit(iopub.MsgError, iopub.ErrorContent{Ename: reply.Ename, Evalue: reply.Evalue, Traceback: reply.Traceback})
	}
	emit(msgExecuteReply, reply)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var req kernel.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kernelFrom(r).Complete(req))
}

func (s *Server) inspect(w http.ResponseWriter, r *http.Request) {
	var req kernel.InspectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kernelFrom(r).Inspect(req))
}

func (s *Server) isComplete(w http.ResponseWriter, r *http.Request) {
	var req kernel.IsCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kernelFrom(r).IsComplete(req))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := kernel.HistoryRequest{HistAccessType: q.Get("hist_access_type")}
	req.Output, _ = strconv.ParseBool(q.Get("output"))
	req.Raw, _ = strconv.ParseBool(q.Get("raw"))
	if v := q.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		req.N = n
	}

	reply, err := kernelFrom(r).History(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) commInfo(w http.ResponseWriter, r *http.Request) {
	req := kernel.CommInfoRequest{TargetName: r.URL.Query().Get("target_name")}
	writeJSON(w, http.StatusOK, kernelFrom(r).CommInfo(req))
}

func (s *Server) interrupt(w http.ResponseWriter, r *http.Request) {
	n := kernelFrom(r).Interrupt()
	writeJSON(w, http.StatusOK, InterruptResponse{Status: kernel.StatusOK, Interrupted: n})
}
