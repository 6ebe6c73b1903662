// Package server exposes kernels over HTTP. Execute requests stream their
// output back as newline delimited JSON messages.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/hupe1980/chatkernel/logging"
)

// KernelManager starts, finds and stops kernels.
type KernelManager interface {
	Specs() []kernel.Spec
	DefaultSpecName() string
	StartKernel(ctx context.Context, name string) (*kernel.Kernel, error)
	Kernel(id string) (*kernel.Kernel, bool)
	ShutdownKernel(id string, restart bool) (kernel.ShutdownReply, error)
}

// Options configure a Server.
type Options struct {
	Logger logging.Logger
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
	// ReadHeaderTimeout is passed to http.Server.
	ReadHeaderTimeout time.Duration
}

// Server routes kernel requests to a KernelManager.
type Server struct {
	manager KernelManager
	router  *chi.Mux
	logger  logging.Logger
	opts    Options
}

// New creates a Server with all routes registered.
func New(manager KernelManager, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)
	if kl, ok := logger.(*logging.KernelLogger); ok {
		logger = kl.WithComponent("server")
	}

	s := &Server{
		manager: manager,
		logger:  logger,
		opts:    opts,
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/kernelspecs", s.kernelSpecs)

		r.Route("/kernels", func(r chi.Router) {
			r.Post("/", s.startKernel)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.withKernel)

				r.Get("/", s.kernelInfo)
				r.Delete("/", s.shutdownKernel)
				r.Post("/execute", s.execute)
				r.Post("/complete", s.complete)
				r.Post("/inspect", s.inspect)
				r.Post("/is_complete", s.isComplete)
				r.Get("/history", s.history)
				r.Get("/comm_info", s.commInfo)
				r.Post("/interrupt", s.interrupt)
			})
		})
	})

	return r
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
