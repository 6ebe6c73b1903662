// Package testutil contains helpers used across tests to reduce boilerplate
// when scripting mock providers and asserting on streamed chunks. They are
// not intended for production usage.
package testutil
