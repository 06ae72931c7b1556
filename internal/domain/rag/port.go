package rag

import (
	"context"
	"time"
)

// CacheKey identifies a cached value. Namespace separates entity kinds so
// ids of different kinds never collide.
type CacheKey struct {
	Namespace string
	ID        string
}

// String renders the key as "<namespace>:<id>".
func (k CacheKey) String() string {
	return k.Namespace + ":" + k.ID
}

// DocumentKey is the key of a document's extracted text.
func DocumentKey(docID string) CacheKey {
	return CacheKey{Namespace: "doc", ID: docID}
}

// CacheBackend is the capability set a text cache store must offer. Get
// returns ErrCacheMiss for absent or expired keys; any other error means the
// backend itself is in trouble. Implementations are safe for concurrent use.
type CacheBackend interface {
	Put(ctx context.Context, key CacheKey, value string, ttl time.Duration) error
	Get(ctx context.Context, key CacheKey) (string, error)
	Delete(ctx context.Context, key CacheKey) error
	Ping(ctx context.Context) error
}

// StatusSink receives document status changes, e.g. a metadata store that
// keeps the audit trail. Errors are logged by the caller and never fail
// ingestion.
type StatusSink interface {
	RecordStatus(ctx context.Context, ev StatusEvent) error
}
