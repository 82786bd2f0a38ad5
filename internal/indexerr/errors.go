// Package indexerr defines the error taxonomy shared by the store's
// components. Every exported error is a sentinel meant for errors.Is;
// wrap with fmt.Errorf("...: %w", ...) for context, never re-declare a new
// sentinel per call site.
package indexerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a queried entity (collection or package) is
	// absent.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a stored blob failed to decode.
	ErrCorrupt = errors.New("corrupt")

	// ErrSchemaUnavailable indicates FTS virtual table creation failed.
	// Not surfaced to callers directly; it demotes the store to
	// fallback-scan mode.
	ErrSchemaUnavailable = errors.New("schema unavailable")

	// ErrCloseFailed indicates all close retries were exhausted.
	ErrCloseFailed = errors.New("close failed")

	// ErrBackend wraps an underlying SQL-engine error.
	ErrBackend = errors.New("backend error")

	// ErrExhaustedRetries is internal to the backoff scheduler.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// NotFound wraps ErrNotFound with the identifier that was missing.
func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// NotFoundf is NotFound with fmt.Sprintf-style formatting.
func NotFoundf(format string, args ...any) error {
	return NotFound(fmt.Sprintf(format, args...))
}

// Corrupt wraps ErrCorrupt with context about the blob that failed to decode.
func Corrupt(what string, cause error) error {
	return fmt.Errorf("%s: %w: %v", what, ErrCorrupt, cause)
}

// Backend wraps ErrBackend with the failing operation and the underlying
// SQL-engine error.
func Backend(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, cause)
}
