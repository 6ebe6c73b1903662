// Package iopub carries the kernel's out-of-band output: stream fragments,
// execution errors and status changes. Messages use the notebook message
// envelope (header, parent header, content) and are handed to a Publisher,
// which may record them, write them as JSON lines, or forward them to Redis
// or RabbitMQ.
package iopub

import (
	"context"
	"time"

	"github.com/hupe1980/chatkernel/core"
)

// ProtocolVersion is the message protocol version stamped on every header.
const ProtocolVersion = "5.3"

// Message types published by the kernel.
const (
	MsgStream       = "stream"
	MsgError        = "error"
	MsgStatus       = "status"
	MsgExecuteInput = "execute_input"
)

// Stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Execution states reported by status messages.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

// Header identifies a message. Parent headers link output to the request
// that caused it.
type Header struct {
	MsgID    string    `json:"msg_id"`
	MsgType  string    `json:"msg_type"`
	Session  string    `json:"session"`
	Username string    `json:"username,omitempty"`
	Date     time.Time `json:"date"`
	Version  string    `json:"version"`
}

// NewHeader creates a header with a fresh message id.
func NewHeader(session, msgType string) Header {
	return Header{
		MsgID:   core.NewID(),
		MsgType: msgType,
		Session: session,
		Date:    time.Now().UTC(),
		Version: ProtocolVersion,
	}
}

// Message is one published output message.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader *Header        `json:"parent_header,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	Content      any            `json:"content"`
}

// Type returns the header's message type.
func (m Message) Type() string { return m.Header.MsgType }

// StreamContent is the content of a stream message.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorContent is the content of an error message and of an error reply.
type ErrorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusContent is the content of a status message.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// ExecuteInputContent echoes the code of an execute request.
type ExecuteInputContent struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// NewMessage builds a message of msgType in session, replying to parent.
func NewMessage(session, msgType string, parent *Header, content any) Message {
	return Message{
		Header:       NewHeader(session, msgType),
		ParentHeader: parent,
		Metadata:     map[string]any{},
		Content:      content,
	}
}

type parentKey struct{}

// WithParent returns a context carrying the header of the request being
// served. Output published for that request links back to it.
func WithParent(ctx context.Context, parent Header) context.Context {
	return context.WithValue(ctx, parentKey{}, parent)
}

// ParentFrom returns the request header stored by WithParent, if any.
func ParentFrom(ctx context.Context) *Header {
	if h, ok := ctx.Value(parentKey{}).(Header); ok {
		return &h
	}
	return nil
}
