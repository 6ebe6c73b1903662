// Package core provides the foundational domain types shared by the chat
// kernel packages:
//
//   - PromptRequest / Chunk (one prompt in, ordered text fragments out)
//   - ExecutionResult (the single terminal record of a request)
//   - Availability (model capability states reported by providers)
//   - The error taxonomy (ModelUnavailableError, StreamError, ProtocolError)
//   - PromptLimiter (optional cap on prompts per kernel)
//
// The package intentionally keeps implementation concerns (providers,
// session caching, transports) out of scope so every other package can
// depend on it without cycles.
package core
