package iopub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Publisher delivers output messages. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Channel is the kernel side of the output channel for one session. It builds
// typed messages and hands them to a Publisher.
type Channel struct {
	publisher Publisher
	session   string
}

// NewChannel creates a Channel publishing to p. A nil p discards all output.
func NewChannel(p Publisher, session string) *Channel {
	if p == nil {
		p = Discard{}
	}
	return &Channel{publisher: p, session: session}
}

// Session returns the session id stamped on every message.
func (c *Channel) Session() string { return c.session }

// Stream publishes a stream fragment.
func (c *Channel) Stream(ctx context.Context, parent *Header, name, text string) error {
	return c.publish(ctx, MsgStream, parent, StreamContent{Name: name, Text: text})
}

// ExecuteError publishes an execution failure.
func (c *Channel) ExecuteError(ctx context.Context, parent *Header, content ErrorContent) error {
	if content.Traceback == nil {
		content.Traceback = []string{}
	}
	return c.publish(ctx, MsgError, parent, content)
}

// Status publishes an execution state change.
func (c *Channel) Status(ctx context.Context, parent *Header, state string) error {
	return c.publish(ctx, MsgStatus, parent, StatusContent{ExecutionState: state})
}

// ExecuteInput echoes the code of an execute request.
func (c *Channel) ExecuteInput(ctx context.Context, parent *Header, code string, count int) error {
	return c.publish(ctx, MsgExecuteInput, parent, ExecuteInputContent{Code: code, ExecutionCount: count})
}

func (c *Channel) publish(ctx context.Context, msgType string, parent *Header, content any) error {
	if err := c.publisher.Publish(ctx, NewMessage(c.session, msgType, parent, content)); err != nil {
		return fmt.Errorf("publish %s: %w", msgType, err)
	}
	return nil
}

// Discard drops every message.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Message) error { return nil }

// Close implements Publisher.
func (Discard) Close() error { return nil }

// Recorder keeps every published message in memory. Useful for tests and for
// transports that replay output after the request finished.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Messages returns a copy of the recorded messages in publish order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// ByType returns the recorded messages of msgType in publish order.
func (r *Recorder) ByType(msgType string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Type() == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// WriterPublisher writes each message as one JSON line.
type WriterPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
	w   io.Writer
}

// NewWriterPublisher creates a WriterPublisher on w.
func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{enc: json.NewEncoder(w), w: w}
}

// Publish implements Publisher.
func (p *WriterPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(msg)
}

// Close closes the writer when it is an io.Closer.
func (p *WriterPublisher) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Multi fans a message out to several publishers. Every publisher is tried;
// failures are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = Discard{}
	_ Publisher = (*Recorder)(nil)
	_ Publisher = (*WriterPublisher)(nil)
	_ Publisher = Multi(nil)
)
