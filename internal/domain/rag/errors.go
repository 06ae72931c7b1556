package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat means no decoder is registered for the media kind.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailed means a decoder ran but produced no usable text.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrInvalidChunkConfig rejects a chunk size or overlap fraction.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrInvalidQuery is a caller mistake in a search request.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSnippetUnavailable marks a result whose text expired from the cache.
	ErrSnippetUnavailable = errors.New("snippet unavailable")

	// ErrBackendUnavailable means a storage backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrCacheMiss is returned by cache backends for absent or expired keys.
	ErrCacheMiss = errors.New("cache miss")

	// ErrDocumentNotFound is returned for unknown document ids.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDimensionMismatch rejects a vector of the wrong size for the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotRetryable is returned by Retry for documents that are not pending.
	ErrNotRetryable = errors.New("document is not pending")

	// ErrPublishAborted means the document was withdrawn before its entries
	// became visible.
	ErrPublishAborted = errors.New("publish aborted")
)

// ExtractionError carries the diagnostic reason of a failed extraction.
// Reason is safe to persist in audit logs.
type ExtractionError struct {
	Kind   MediaKind
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return ErrExtractionFailed }

func extractionFailed(kind MediaKind, format string, args ...any) error {
	return &ExtractionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// FailureReason returns the audit-safe reason for an ingestion error.
func FailureReason(err error) string {
	var xe *ExtractionError
	if errors.As(err, &xe) {
		return xe.Reason
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		return err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
