// Package chat implements the model session manager: it owns at most one
// lazily created model.Session per Manager and turns prompts into ordered
// chunk streams.
//
// Guarantees:
//   - A session is created at most once and reused until invalidated
//   - Concurrent callers share a single in-flight creation
//   - Every opened stream releases its reader exactly once
//   - A failed stream never reports its partial text as a result
package chat
