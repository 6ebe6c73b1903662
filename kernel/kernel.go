package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chatkernel/chat"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/history"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/logging"
)

// State is the lifecycle of the request a kernel is currently serving.
type State int32

const (
	StateIdle State = iota
	StateSessionPending
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionPending:
		return "session_pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrorName is the ename reported for failed executions.
const ErrorName = "Error"

// Options configure a Kernel.
type Options struct {
	// ID identifies the kernel; generated when empty.
	ID string
	// SessionID stamps published messages and history entries; generated when empty.
	SessionID string
	Logger    logging.Logger
	// Publisher receives stream and error output (Discard if nil).
	Publisher iopub.Publisher
	// History records execute requests (in-memory if nil).
	History history.Store
	// MaxPrompts limits prompts per kernel lifetime (0 = unlimited).
	MaxPrompts int
	// Spec is reported by KernelInfo.
	Spec Spec
	// Banner is a text/template rendered for KernelInfo.
	Banner string
}

// Kernel adapts execute requests into prompts on a chat.Manager. Every
// Execute yields exactly one core.ExecutionResult after all of its chunks.
type Kernel struct {
	id      string
	manager *chat.Manager
	channel *iopub.Channel
	history history.Store
	limiter *core.PromptLimiter
	logger  logging.Logger
	opts    Options

	state          atomic.Int32
	executionCount atomic.Int64

	mu         sync.Mutex
	activeRuns map[string]context.CancelCauseFunc
}

// New creates a kernel serving prompts through manager.
func New(manager *chat.Manager, optFns ...func(o *Options)) *Kernel {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Spec:   DefaultSpec(),
		Banner: DefaultBanner,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ID == "" {
		opts.ID = core.NewID()
	}
	if opts.SessionID == "" {
		opts.SessionID = core.NewID()
	}
	if opts.History == nil {
		opts.History = history.NewInMemoryStore()
	}

	logger := logging.OrNoOp(opts.Logger)
	if kl, ok := logger.(*logging.KernelLogger); ok {
		logger = kl.WithComponent("kernel").WithKernel(opts.ID, opts.SessionID)
	}

	return &Kernel{
		id:         opts.ID,
		manager:    manager,
		channel:    iopub.NewChannel(opts.Publisher, opts.SessionID),
		history:    opts.History,
		limiter:    core.NewPromptLimiter(opts.MaxPrompts),
		logger:     logger,
		opts:       opts,
		activeRuns: make(map[string]context.CancelCauseFunc),
	}
}

// ID returns the kernel id.
func (k *Kernel) ID() string { return k.id }

// SessionID returns the session id used for output and history.
func (k *Kernel) SessionID() string { return k.opts.SessionID }

// Spec returns the spec this kernel was created from.
func (k *Kernel) Spec() Spec { return k.opts.Spec }

// Manager returns the session manager backing the kernel.
func (k *Kernel) Manager() *chat.Manager { return k.manager }

// State returns the state of the current (or last) request.
func (k *Kernel) State() State { return State(k.state.Load()) }

// PromptsRemaining returns the prompt budget left, or -1 when unlimited.
func (k *Kernel) PromptsRemaining() int { return k.limiter.Remaining() }

// ExecutionCount returns the number of execute requests served so far.
func (k *Kernel) ExecutionCount() int { return int(k.executionCount.Load()) }

func (k *Kernel) setState(s State) {
	k.state.Store(int32(s))
	k.logger.Debug("kernel state changed", "state", s.String())
}

// Execute sends req to the model and hands every chunk to onChunk (may be
// nil) before returning. It never panics and never returns partial text as
// success: failures become core.Err and are published once as an error
// message; cancellation of ctx or Interrupt becomes core.Cancelled.
func (k *Kernel) Execute(ctx context.Context, req core.PromptRequest, onChunk func(core.Chunk)) (result core.ExecutionResult) {
	runID := core.NewID()
	ctx, cancel := context.WithCancelCause(ctx)
	k.track(runID, cancel)
	defer k.untrack(runID)
	defer cancel(nil)

	parent := iopub.ParentFrom(ctx)

	defer func() {
		if r := recover(); r != nil {
			result = k.fail(ctx, parent, fmt.Errorf("execution panicked: %s", core.MessageOf(r)))
		}
	}()

	if err := k.limiter.Acquire(); err != nil {
		return k.fail(ctx, parent, err)
	}

	if !k.manager.HasSession() {
		k.setState(StateSessionPending)
	}
	session, err := k.manager.EnsureSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return k.cancelled(ctx)
		}
		return k.fail(ctx, parent, err)
	}

	k.setState(StateStreaming)
	stream := k.manager.StreamPrompt(ctx, session, req.Text)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Chunk()
		if onChunk != nil {
			onChunk(chunk)
		}
		if err := k.channel.Stream(ctx, parent, iopub.StreamStdout, chunk.Text); err != nil {
			k.logger.Warn("publish stream output", "error", err)
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return k.cancelled(ctx)
		}
		return k.fail(ctx, parent, err)
	}

	k.setState(StateCompleted)
	return core.Ok(stream.Text())
}

func (k *Kernel) fail(ctx context.Context, parent *iopub.Header, err error) core.ExecutionResult {
	msg := core.ErrorMessage(err)
	k.setState(StateFailed)
	k.logger.Error("execution failed", "error", msg)

	content := iopub.ErrorContent{Ename: ErrorName, Evalue: msg, Traceback: []string{}}
	if perr := k.channel.ExecuteError(context.WithoutCancel(ctx), parent, content); perr != nil {
		k.logger.Warn("publish execution error", "error", perr)
	}

	return core.Err(msg)
}

func (k *Kernel) cancelled(ctx context.Context) core.ExecutionResult {
	k.setState(StateCancelled)
	msg := core.ErrorMessage(context.Cause(ctx))
	k.logger.Info("execution cancelled", "reason", msg)
	return core.Cancelled(msg)
}

func (k *Kernel) track(runID string, cancel context.CancelCauseFunc) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.activeRuns[runID] = cancel
}

func (k *Kernel) untrack(runID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.activeRuns, runID)
}

// Interrupt cancels every in-flight execution and returns how many were
// running.
func (k *Kernel) Interrupt() int {
	k.mu.Lock()
	runs := make([]context.CancelCauseFunc, 0, len(k.activeRuns))
	for _, cancel := range k.activeRuns {
		runs = append(runs, cancel)
	}
	k.mu.Unlock()

	for _, cancel := range runs {
		cancel(core.ErrCancelled)
	}
	if len(runs) > 0 {
		k.logger.Info("kernel interrupted", "runs", len(runs))
	}
	return len(runs)
}

// Close interrupts running executions and destroys the model session.
func (k *Kernel) Close() error {
	k.Interrupt()
	k.manager.Invalidate()
	return nil
}
