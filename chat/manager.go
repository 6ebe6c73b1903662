package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/logging"
	"github.com/hupe1980/chatkernel/model"
	"golang.org/x/sync/singleflight"
)

const creationKey = "session"

// ErrSessionInvalidated is returned to callers whose session creation was
// overtaken by Invalidate. The late session is destroyed.
var ErrSessionInvalidated = errors.New("model session invalidated during creation")

// Options configure a Manager.
type Options struct {
	// Logger receives lifecycle and download progress logs (NoOp if nil).
	Logger logging.Logger
	// OnProgress observes model download progress in [0,1] (optional).
	OnProgress func(loaded float64)
	// InvalidateOnError drops the cached session after a stream failure so the
	// next prompt starts from a fresh session.
	InvalidateOnError bool
	// CreateOptions are passed to the provider for every new session. Monitor
	// is managed by the Manager and ignored here.
	CreateOptions model.CreateOptions
}

// Manager owns zero-or-one model session. The cached session lives as long
// as the Manager unless Invalidate is called (or a stream fails while
// InvalidateOnError is set). Methods are safe for concurrent use.
type Manager struct {
	provider model.Provider
	opts     Options
	logger   logging.Logger

	mu      sync.Mutex
	session model.Session
	gen     uint64 // bumped by Invalidate
	flight  singleflight.Group
}

// NewManager creates a Manager for provider. A nil provider is allowed and
// makes every EnsureSession fail with core.ModelUnavailableError.
func NewManager(provider model.Provider, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		InvalidateOnError: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		provider: provider,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Provider returns the injected provider (may be nil).
func (m *Manager) Provider() model.Provider { return m.provider }

// HasSession reports whether a session is cached.
func (m *Manager) HasSession() bool {
	return m.cached() != nil
}

func (m *Manager) cached() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// EnsureSession returns the cached session, creating it on first use.
// Concurrent callers share one creation; a caller whose ctx ends stops
// waiting without aborting the shared creation. Failures are not cached.
func (m *Manager) EnsureSession(ctx context.Context) (model.Session, error) {
	if s := m.cached(); s != nil {
		return s, nil
	}

	ch := m.flight.DoChan(creationKey, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("create model session panicked: %s", core.MessageOf(r))
			}
		}()

		m.mu.Lock()
		if m.session != nil {
			s := m.session
			m.mu.Unlock()
			return s, nil
		}
		gen := m.gen
		m.mu.Unlock()

		s, err := m.create(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			m.logger.Info("discarding model session created before invalidation")
			m.destroy(s)
			return nil, ErrSessionInvalidated
		}
		m.session = s
		m.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(model.Session), nil
	}
}

func (m *Manager) create(ctx context.Context) (model.Session, error) {
	if m.provider == nil {
		return nil, &core.ModelUnavailableError{Reason: core.ReasonNoCapability}
	}
	info := m.provider.Info()

	availability, err := m.provider.Availability(ctx)
	if err != nil {
		return nil, fmt.Errorf("check model availability: %w", err)
	}

	opts := m.opts.CreateOptions
	opts.Monitor = nil

	switch availability {
	case core.AvailabilityUnavailable:
		return nil, &core.ModelUnavailableError{Reason: core.ReasonUnavailable, Provider: info.Provider}
	case core.AvailabilityDownloadable, core.AvailabilityDownloading:
		opts.Monitor = m.monitor(info.Name)
	case core.AvailabilityAvailable:
	default:
		return nil, &core.ProtocolError{Message: fmt.Sprintf("unknown model availability %q", availability)}
	}

	start := time.Now()
	s, err := m.provider.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", info.Provider, err)
	}
	m.logger.Info("model session created", "provider", info.Provider, "model", info.Name,
		"availability", string(availability), "duration", time.Since(start))

	return s, nil
}

// monitor logs download progress and forwards it to OnProgress. Values are
// clamped to [0,1].
func (m *Manager) monitor(modelName string) model.ProgressFunc {
	return func(loaded float64) {
		switch {
		case loaded < 0:
			loaded = 0
		case loaded > 1:
			loaded = 1
		}
		if ml, ok := m.logger.(logging.ModelCallLogger); ok {
			ml.LogDownloadProgress(modelName, loaded)
		} else {
			m.logger.Info("downloading model", "model", modelName, "percent", int(loaded*100+0.5))
		}
		if m.opts.OnProgress != nil {
			m.opts.OnProgress(loaded)
		}
	}
}

// Invalidate drops and destroys the cached session. The next EnsureSession
// creates a new one; a creation still in flight is discarded when it lands.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.gen++
	m.mu.Unlock()
	m.flight.Forget(creationKey)

	m.destroy(s)
}

// invalidateIfCurrent drops s only if it is still the cached session.
func (m *Manager) invalidateIfCurrent(s model.Session) {
	m.mu.Lock()
	if m.session == nil || m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	m.logger.Warn("model session invalidated after stream failure")
	m.destroy(s)
}

func (m *Manager) destroy(s model.Session) {
	if s == nil {
		return
	}
	if err := s.Destroy(); err != nil {
		m.logger.Warn("destroy model session", "error", err)
	}
}

// StreamPrompt opens a fresh stream for text on session. The returned Stream
// must be drained or closed.
func (m *Manager) StreamPrompt(ctx context.Context, session model.Session, text string) *Stream {
	st := &Stream{ctx: ctx, manager: m, session: session, started: time.Now()}

	if session == nil {
		st.finish(&core.StreamError{Message: "open prompt stream", Cause: core.ErrModelUnavailable})
		return st
	}

	reader, err := session.PromptStreaming(ctx, text)
	if err != nil {
		st.finish(st.classify(&core.StreamError{Message: "open prompt stream", Cause: err}))
		return st
	}
	st.reader = reader

	return st
}

// Send ensures a session, streams text and hands every chunk to onChunk in
// arrival order. It returns the accumulated reply, or an error without the
// partial text.
func (m *Manager) Send(ctx context.Context, text string, onChunk func(core.Chunk)) (string, error) {
	session, err := m.EnsureSession(ctx)
	if err != nil {
		return "", err
	}

	stream := m.StreamPrompt(ctx, session, text)
	defer stream.Close()

	for stream.Next() {
		if onChunk != nil {
			onChunk(stream.Chunk())
		}
	}

	if err := stream.Err(); err != nil {
		return "", err
	}

	return stream.Text(), nil
}
