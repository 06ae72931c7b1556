package rag

import (
	"fmt"
	"time"
)

// DocumentStatus is the extraction lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusExtracted DocumentStatus = "extracted"
	StatusFailed    DocumentStatus = "failed"
	// StatusDeleted only appears on status events; deleted documents leave the registry.
	StatusDeleted DocumentStatus = "deleted"
)

// Document is the ingestion record for one uploaded file.
type Document struct {
	ID            string         `json:"id"`
	MediaKind     MediaKind      `json:"media_kind"`
	ByteLength    int            `json:"byte_length"`
	Pages         int            `json:"pages,omitempty"`
	IngestedAt    time.Time      `json:"ingested_at"`
	Status        DocumentStatus `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	ChunkCount    int            `json:"chunk_count"`

	// seq orders documents ingested within the same clock tick.
	seq uint64
}

// Chunk is a contiguous slice of a document's normalized text.
// Offsets are byte offsets into the normalized text.
type Chunk struct {
	DocumentID  string `json:"document_id"`
	Sequence    int    `json:"sequence"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"-"`
}

// ID returns the chunk identifier used by both sub-indexes.
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Sequence)
}

// ChunkID builds the identifier of chunk seq of document docID.
func ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, seq)
}

// ChunkRef is the provenance of a ranked chunk.
type ChunkRef struct {
	ChunkID     string `json:"chunk_id"`
	Sequence    int    `json:"sequence"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// RetrievalMode selects how chunks are scored.
type RetrievalMode string

const (
	ModeKeyword  RetrievalMode = "keyword"
	ModeSemantic RetrievalMode = "semantic"
	ModeHybrid   RetrievalMode = "hybrid"
)

// Valid reports whether m names a known mode.
func (m RetrievalMode) Valid() bool {
	switch m {
	case ModeKeyword, ModeSemantic, ModeHybrid:
		return true
	}
	return false
}

// SearchRequest is a retrieval query.
type SearchRequest struct {
	Query string        `json:"query"`
	TopK  int           `json:"top_k"`
	Mode  RetrievalMode `json:"mode,omitempty"`
}

// RankedResult is one scored chunk with its snippet.
type RankedResult struct {
	DocumentID    string   `json:"document_id"`
	Chunk         ChunkRef `json:"chunk"`
	Score         float64  `json:"score"`
	KeywordScore  float64  `json:"keyword_score"`
	SemanticScore float64  `json:"semantic_score"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
	Snippet       string   `json:"snippet"`
	// SnippetErr is ErrSnippetUnavailable when the document text has left the cache.
	SnippetErr error `json:"-"`
}

// SnippetAvailable reports whether Snippet holds the chunk text.
func (r RankedResult) SnippetAvailable() bool {
	return r.SnippetErr == nil
}

// SearchResult is the response to a SearchRequest.
type SearchResult struct {
	Results   []RankedResult `json:"results"`
	Mode      RetrievalMode  `json:"mode"`
	ElapsedMs int64          `json:"elapsed_ms"`
}

// CacheBackendState is the health of the text cache's shared backend.
type CacheBackendState string

const (
	CacheHealthy  CacheBackendState = "healthy"
	CacheDegraded CacheBackendState = "degraded"
)

// Health summarizes the core for observability.
type Health struct {
	CacheBackend CacheBackendState `json:"cache_backend"`
	IndexSize    int               `json:"index_size"`
	Documents    int               `json:"documents"`
}

// StatusEvent is emitted whenever a document changes status.
type StatusEvent struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	MediaKind  MediaKind      `json:"media_kind"`
	ByteLength int            `json:"byte_length"`
	Pages      int            `json:"pages,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

func newStatusEvent(doc *Document, at time.Time) StatusEvent {
	return StatusEvent{
		DocumentID: doc.ID,
		Status:     doc.Status,
		MediaKind:  doc.MediaKind,
		ByteLength: doc.ByteLength,
		Pages:      doc.Pages,
		ChunkCount: doc.ChunkCount,
		Reason:     doc.FailureReason,
		At:         at,
	}
}
