package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/logging"
	"github.com/hupe1980/chatkernel/model"
)

// Stream is a finite, non-restartable sequence of chunks for one prompt.
//
//	stream := m.StreamPrompt(ctx, session, text)
//	defer stream.Close()
//	for stream.Next() {
//		fmt.Print(stream.Chunk().Text)
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The reader is released exactly once: when Next reaches the end or a
// failure, or on the first Close.
type Stream struct {
	ctx     context.Context
	manager *Manager
	session model.Session
	reader  model.Reader
	started time.Time

	chunk  core.Chunk
	text   strings.Builder
	chunks int
	err    error
	done   bool

	release sync.Once
}

// Next advances to the next non-empty chunk. It returns false once the
// stream completed, failed or was cancelled; check Err afterwards.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			return false
		}

		res, err := s.reader.Read()
		if err != nil {
			s.finish(s.classify(&core.StreamError{Cause: err}))
			return false
		}
		if res.Done {
			s.finish(nil)
			return false
		}

		// empty fragments count towards the text but are never yielded
		s.text.WriteString(res.Value)
		if res.Value == "" {
			continue
		}
		s.chunk = core.Chunk{Text: res.Value}
		s.chunks++
		return true
	}
}

// Chunk returns the chunk produced by the last successful Next.
func (s *Stream) Chunk() core.Chunk { return s.chunk }

// Text returns the text accumulated so far. After a clean end of stream this
// is the full reply; it must not be used as a result when Err is non-nil.
func (s *Stream) Text() string { return s.text.String() }

// Err returns the failure that ended the stream, if any. Cancellation is
// reported as the context error, read failures as *core.StreamError.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying reader. It is safe to call more than once
// and after the stream ended.
func (s *Stream) Close() {
	s.done = true
	s.release.Do(func() {
		if s.reader != nil {
			s.reader.ReleaseLock()
		}
	})
}

// classify prefers the context error when a read failed because the caller
// went away.
func (s *Stream) classify(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Stream) finish(err error) {
	s.err = err
	s.Close()

	m := s.manager
	name := ""
	if m.provider != nil {
		name = m.provider.Info().Name
	}
	if ml, ok := m.logger.(logging.ModelCallLogger); ok {
		ml.LogModelCall(name, s.chunks, time.Since(s.started), err == nil, err)
	} else {
		m.logger.Debug("model call finished", "model", name, "chunks", s.chunks,
			"duration", time.Since(s.started), "error", err)
	}

	var se *core.StreamError
	if m.opts.InvalidateOnError && errors.As(err, &se) && s.session != nil {
		m.invalidateIfCurrent(s.session)
	}
}
