// Package model defines the provider-agnostic capability abstractions the
// chat kernel drives: a Provider that reports availability and creates
// Sessions, and Sessions that open pull-based Readers of streamed text.
//
// Core goals:
//   - Model the availability states (available, downloadable, downloading, unavailable)
//   - Keep streaming pull based so consumers control release of the stream
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (OpenAI, Anthropic, Ollama) live in sub-packages so higher layers
// (chat, kernel) remain decoupled from vendor SDKs.
package model
