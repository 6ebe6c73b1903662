// Package logging provides a minimal logging interface and adapters for the
// chat kernel.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the session manager, kernels and server use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - KernelLogger with component / kernel context and model call helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	manager := chat.NewManager(provider, func(o *chat.Options) { o.Logger = logger })
package logging
