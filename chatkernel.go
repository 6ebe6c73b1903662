// Package chatkernel provides a high-level façade over the kernel, session
// and storage abstractions, making it easy to serve a notebook kernel backed
// by a language model. Most applications interact with this package by:
//  1. Creating a ChatKernel via New() (or FromConfig) with a model.Provider
//  2. Starting one or more kernels from the registered spec (StartKernel)
//  3. Sending execute requests to a kernel, directly or via the server package
//
// Every kernel owns its own chat.Manager and therefore its own model session;
// the provider, history store and output publisher are shared. All defaults
// are safe for local development and testing.
package chatkernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/chatkernel/chat"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/history"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/hupe1980/chatkernel/logging"
	"github.com/hupe1980/chatkernel/model"
)

// Options configures the ChatKernel instance.
type Options struct {
	// Provider backs every kernel. A nil provider starts kernels that answer
	// every request with a "no capability" error.
	Provider model.Provider

	// Spec is registered on New (defaults to kernel.DefaultSpec()).
	Spec kernel.Spec
	// Banner is the kernel info banner template.
	Banner string
	// MaxPrompts limits prompts per kernel (0 = unlimited).
	MaxPrompts int
	// InvalidateOnError drops a kernel's session after a failed stream.
	InvalidateOnError bool
	// CreateOptions are used for every new model session.
	CreateOptions model.CreateOptions
	// OnProgress observes model download progress of any kernel.
	OnProgress func(loaded float64)

	// Stores (defaults to in-memory / discard implementations if not provided)
	History   history.Store
	Publisher iopub.Publisher

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ChatKernel is the high-level façade aggregating the registry and the
// running kernels.
type ChatKernel struct {
	opts     Options
	registry *kernel.Registry
	logger   logging.Logger

	mu      sync.RWMutex
	kernels map[string]*kernel.Kernel
}

// New creates a new ChatKernel instance with optional overrides and
// registers the configured spec.
func New(optFns ...func(o *Options)) (*ChatKernel, error) {
	opts := Options{
		Spec:              kernel.DefaultSpec(),
		Banner:            kernel.DefaultBanner,
		InvalidateOnError: true,
		History:           history.NewInMemoryStore(),
		Publisher:         iopub.Discard{},
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	c := &ChatKernel{
		opts:     opts,
		registry: kernel.NewRegistry(),
		logger:   logging.OrNoOp(opts.Logger),
		kernels:  make(map[string]*kernel.Kernel),
	}

	if err := c.registry.Register(opts.Spec, c.newKernel); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *ChatKernel) newKernel(_ context.Context, spec kernel.Spec) (*kernel.Kernel, error) {
	id, sessionID := core.NewID(), core.NewID()

	logger := c.logger
	if kl, ok := logger.(*logging.KernelLogger); ok {
		logger = kl.WithComponent("chat").WithKernel(id, sessionID)
	}

	manager := chat.NewManager(c.opts.Provider, func(o *chat.Options) {
		o.Logger = logger
		o.OnProgress = c.opts.OnProgress
		o.InvalidateOnError = c.opts.InvalidateOnError
		o.CreateOptions = c.opts.CreateOptions
	})

	return kernel.New(manager, func(o *kernel.Options) {
		o.ID = id
		o.SessionID = sessionID
		o.Logger = c.logger
		o.Publisher = c.opts.Publisher
		o.History = c.opts.History
		o.MaxPrompts = c.opts.MaxPrompts
		o.Spec = spec
		o.Banner = c.opts.Banner
	}), nil
}

// Registry returns the kernel spec registry. Additional specs may be
// registered on it.
func (c *ChatKernel) Registry() *kernel.Registry { return c.registry }

// Specs lists the registered kernel specs.
func (c *ChatKernel) Specs() []kernel.Spec { return c.registry.Specs() }

// DefaultSpecName returns the name of the spec registered on New.
func (c *ChatKernel) DefaultSpecName() string { return c.opts.Spec.Name }

// StartKernel creates a kernel from the named spec (the default spec when
// name is empty) and keeps it until ShutdownKernel or Close.
func (c *ChatKernel) StartKernel(ctx context.Context, name string) (*kernel.Kernel, error) {
	if name == "" {
		name = c.opts.Spec.Name
	}

	k, err := c.registry.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.kernels[k.ID()] = k
	c.mu.Unlock()

	c.logger.Info("kernel started", "kernel_id", k.ID(), "spec", name)
	return k, nil
}

// Kernel returns a running kernel by id.
func (c *ChatKernel) Kernel(id string) (*kernel.Kernel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.kernels[id]
	return k, ok
}

// Kernels returns the running kernels ordered by id.
func (c *ChatKernel) Kernels() []*kernel.Kernel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*kernel.Kernel, 0, len(c.kernels))
	for _, k := range c.kernels {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ErrKernelNotFound is returned for unknown kernel ids.
var ErrKernelNotFound = errors.New("kernel not found")

// ShutdownKernel shuts a kernel down. Without restart the kernel is removed.
func (c *ChatKernel) ShutdownKernel(id string, restart bool) (kernel.ShutdownReply, error) {
	c.mu.Lock()
	k, ok := c.kernels[id]
	if ok && !restart {
		delete(c.kernels, id)
	}
	c.mu.Unlock()

	if !ok {
		return kernel.ShutdownReply{}, fmt.Errorf("%w: %s", ErrKernelNotFound, id)
	}

	return k.Shutdown(kernel.ShutdownRequest{Restart: restart}), nil
}

// Close shuts down every kernel and closes the history store and publisher.
func (c *ChatKernel) Close() error {
	c.mu.Lock()
	kernels := c.kernels
	c.kernels = make(map[string]*kernel.Kernel)
	c.mu.Unlock()

	var errs []error
	for _, k := range kernels {
		if err := k.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.opts.History != nil {
		if err := c.opts.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if c.opts.Publisher != nil {
		if err := c.opts.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
