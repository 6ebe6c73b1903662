// Package history records executed prompts and their replies so kernels can
// answer history requests. InMemoryStore suits tests and single process
// servers; SQLStore persists to SQLite (modernc.org/sqlite, no cgo) or MySQL.
package history
