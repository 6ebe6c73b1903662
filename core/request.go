package core

import "github.com/google/uuid"

// PromptRequest is the immutable input of a single adapter invocation.
type PromptRequest struct {
	Text string `json:"text"`
}

// Chunk is one incremental fragment of a streamed model response. Chunks are
// delivered in arrival order.
type Chunk struct {
	Text string `json:"text"`
}

// ResultStatus discriminates the variants of an ExecutionResult.
type ResultStatus string

const (
	// ResultOk marks a completed stream.
	ResultOk ResultStatus = "ok"
	// ResultError marks a failed request.
	ResultError ResultStatus = "error"
	// ResultCancelled marks a request stopped by its caller.
	ResultCancelled ResultStatus = "cancelled"
)

// ExecutionResult is the terminal record produced exactly once per
// PromptRequest, after every chunk of that request has been delivered.
//
// FullText is only set for ResultOk; Message only for the other variants.
type ExecutionResult struct {
	Status   ResultStatus `json:"status"`
	FullText string       `json:"full_text,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Ok builds the success variant.
func Ok(fullText string) ExecutionResult {
	return ExecutionResult{Status: ResultOk, FullText: fullText}
}

// Err builds the failure variant.
func Err(message string) ExecutionResult {
	return ExecutionResult{Status: ResultError, Message: message}
}

// Cancelled builds the cancellation variant.
func Cancelled(message string) ExecutionResult {
	return ExecutionResult{Status: ResultCancelled, Message: message}
}

// IsOk reports whether the request completed successfully.
func (r ExecutionResult) IsOk() bool { return r.Status == ResultOk }

// IsCancelled reports whether the request was cancelled.
func (r ExecutionResult) IsCancelled() bool { return r.Status == ResultCancelled }

// NewID generates a new unique identifier for kernels, messages and history
// entries.
func NewID() string { return uuid.NewString() }
