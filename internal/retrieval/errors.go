package retrieval

import (
	"context"
	"errors"
)

// Retrieval failures are typed so callers can distinguish "no relevant
// content" from "retrieval system degraded".
var (
	// ErrInvalidInput rejects an empty query or malformed filters before
	// any I/O happens.
	ErrInvalidInput = errors.New("retrieval: invalid input")

	// ErrEmbeddingUnavailable means the embedding call failed. Fatal for
	// the current request; not retried, since repeated failures usually
	// indicate a provider outage.
	ErrEmbeddingUnavailable = errors.New("retrieval: embedding unavailable")

	// ErrStoreUnavailable means the knowledge store stayed unreachable
	// through the retry.
	ErrStoreUnavailable = errors.New("retrieval: store unavailable")

	// ErrRetrievalFailed covers non-retryable pipeline failures.
	ErrRetrievalFailed = errors.New("retrieval: failed")
)

// isContextError reports whether err stems from caller cancellation or a
// deadline. Those pass through untranslated so callers can tell an aborted
// request from a degraded subsystem.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
