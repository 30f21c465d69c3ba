package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown provider or storage driver.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrProviderUnavailable indicates the completion provider is not configured.
	ErrProviderUnavailable = errors.New("completion provider unavailable")

	// ErrStreamClosed indicates Recv was called on a closed completion stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrRateLimited indicates the provider rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// ProviderError describes a failure reported by the upstream completion provider.
type ProviderError struct {
	// Provider names the adapter, e.g. "openai".
	Provider string

	// StatusCode is the HTTP status returned upstream, 0 if none.
	StatusCode int

	// Message is the provider's error description.
	Message string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Is reports ErrRateLimited for HTTP 429 responses.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}
