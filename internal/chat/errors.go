package chat

import (
	"errors"

	"github.com/scrypster/memochat/internal/llm"
)

var (
	// ErrInvalidRequest means the request lacked a message or user id.
	// Nothing has been read or written when it is returned.
	ErrInvalidRequest = errors.New("invalid chat request")

	// ErrBackendUnavailable means the inference backend could not be reached.
	ErrBackendUnavailable = llm.ErrBackendUnavailable

	// ErrModelUnavailable means the backend is up but the configured model is not installed.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrStreamInterrupted means a streamed reply failed after it started.
	ErrStreamInterrupted = llm.ErrStreamInterrupted
)

// FallbackNotice is sent as the final chunk of a stream that failed mid-flight.
const FallbackNotice = "\n\n[Sorry, the response was interrupted. Please try again.]"

// IsUnavailable reports whether err should be surfaced as a service-unavailable error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrModelUnavailable)
}
