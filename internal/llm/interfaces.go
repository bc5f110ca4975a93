// Package llm implements the inference client memochat uses to talk to a
// local Ollama server: whole-response completions, newline-delimited JSON
// streaming, model listing / pulling, and backend status probes.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrBackendUnavailable indicates the backend could not be reached
	// (connection refused, DNS failure, circuit open).
	ErrBackendUnavailable = errors.New("inference backend unavailable")

	// ErrBackendError indicates the backend answered with a non-success status.
	ErrBackendError = errors.New("inference backend error")

	// ErrMalformedResponse indicates the backend body could not be decoded.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrStreamInterrupted indicates a streaming completion failed after it started.
	ErrStreamInterrupted = errors.New("completion stream interrupted")
)

// Completer produces whole-response completions.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// StreamCompleter produces incremental completions.
type StreamCompleter interface {
	StreamComplete(ctx context.Context, prompt string, opts Options) (<-chan StreamEvent, error)
}

// StatusChecker reports backend liveness and model availability.
type StatusChecker interface {
	CheckStatus(ctx context.Context) Status
	GetModel() string
}

// Backend is everything the chat pipeline needs from an inference server.
type Backend interface {
	Completer
	StreamCompleter
	StatusChecker
}

// StreamEvent is one element of a completion stream. Exactly one of the
// following holds: Chunk is a non-empty fragment, Done marks normal
// completion, or Err reports a failure. Done and Err events are always last.
type StreamEvent struct {
	Chunk string
	Done  bool
	Err   error
}

// Status describes the backend as seen by a single probe. It is never persisted.
type Status struct {
	Reachable      bool     `json:"isRunning"`
	ModelAvailable bool     `json:"modelAvailable"`
	Model          string   `json:"model"`
	Models         []string `json:"models,omitempty"`
	Detail         string   `json:"error,omitempty"`
}
