package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	applog "docsearch/internal/platform/log"
)

// Indexer turns chunks into index entries. Tokenizing and embedding run
// outside any index lock; only the final publish takes the shard lock.
// Add and remove of one document id are serialized, different ids run in
// parallel.
type Indexer struct {
	index     *Index
	tokenizer *Tokenizer
	embedder  Embedder // optional
	locks     *docLocks
}

// NewIndexer creates an indexer over index.
func NewIndexer(index *Index, tokenizer *Tokenizer) *Indexer {
	return &Indexer{index: index, tokenizer: tokenizer, locks: newDocLocks()}
}

// SetEmbedder enables vector entries. Its Dims must match the index.
func (ix *Indexer) SetEmbedder(e Embedder) {
	ix.embedder = e
}

// IndexedDocument identifies the document being indexed and its ordering keys.
type IndexedDocument struct {
	ID         string
	IngestedAt time.Time
	Seq        uint64
}

// AddDocument indexes chunks of doc, replacing earlier entries of the same
// id. commit runs under the shard lock just before the entries become
// visible; returning false withdraws the publish. If the embedder fails the
// document is indexed for keyword retrieval only.
func (ix *Indexer) AddDocument(ctx context.Context, doc IndexedDocument, chunks []Chunk, commit func() bool) error {
	release, err := ix.locks.Acquire(ctx, doc.ID)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	entry := &DocumentEntry{
		DocumentID: doc.ID,
		IngestedAt: doc.IngestedAt,
		IngestSeq:  doc.Seq,
		Chunks:     make([]ChunkEntry, len(chunks)),
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		terms := ix.tokenizer.TermFrequencies(c.Text)
		length := 0
		for _, tf := range terms {
			length += tf
		}
		entry.Chunks[i] = ChunkEntry{Chunk: c, Terms: terms, Length: length}
		texts[i] = c.Text
	}

	if ix.embedder != nil && ix.index.Dims() > 0 && len(chunks) > 0 {
		vectors, err := ix.embedder.Embed(ctx, texts)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			applog.Warn("[RAG/Indexer] Embedding failed, indexing keywords only", "doc_id", doc.ID, "error", err)
		case len(vectors) != len(chunks):
			applog.Warn("[RAG/Indexer] Embedder returned wrong vector count, indexing keywords only",
				"doc_id", doc.ID, "want", len(chunks), "got", len(vectors))
		default:
			for i := range entry.Chunks {
				entry.Chunks[i].Vector = vectors[i]
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ix.index.Publish(entry, commit); err != nil {
		if errors.Is(err, ErrPublishAborted) {
			return err
		}
		return fmt.Errorf("publish %s: %w", doc.ID, err)
	}

	applog.Info("[RAG/Indexer] Document indexed",
		"doc_id", doc.ID,
		"chunks", len(chunks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// RemoveDocument drops every entry of docID. Unknown ids are a no-op.
// onRemove runs under the shard lock once the entries are gone.
func (ix *Indexer) RemoveDocument(ctx context.Context, docID string, onRemove func()) error {
	release, err := ix.locks.Acquire(ctx, docID)
	if err != nil {
		return err
	}
	defer release()

	if ix.index.Remove(docID, onRemove) {
		applog.Info("[RAG/Indexer] Document removed", "doc_id", docID)
	}
	return nil
}

// RebuildSource yields the documents to re-index and their current text.
type RebuildSource interface {
	// RebuildDocuments lists the documents to re-index.
	RebuildDocuments() []IndexedDocument
	// RebuildText returns the text of docID, false if it is gone.
	RebuildText(ctx context.Context, docID string) (string, bool)
	// RebuildCommit reports whether docID may still be published.
	RebuildCommit(docID string) bool
}

// RebuildReport counts the outcome of Rebuild.
type RebuildReport struct {
	Reindexed int `json:"reindexed"`
	// Skipped documents kept their existing entries because their text has
	// left the cache.
	Skipped   int   `json:"skipped"`
	Chunks    int   `json:"chunks"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Rebuild re-chunks and re-embeds every document src lists, one document at
// a time, so queries keep seeing a complete corpus throughout.
func (ix *Indexer) Rebuild(ctx context.Context, chunker *Chunker, src RebuildSource) (*RebuildReport, error) {
	start := time.Now()
	report := &RebuildReport{}

	for _, doc := range src.RebuildDocuments() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		text, ok := src.RebuildText(ctx, doc.ID)
		if !ok {
			report.Skipped++
			continue
		}
		chunks, err := chunker.Chunk(doc.ID, text)
		if err != nil {
			return report, err
		}
		id := doc.ID
		err = ix.AddDocument(ctx, doc, chunks, func() bool { return src.RebuildCommit(id) })
		switch {
		case errors.Is(err, ErrPublishAborted):
			continue
		case err != nil:
			return report, err
		}
		report.Reindexed++
		report.Chunks += len(chunks)
	}

	report.ElapsedMs = time.Since(start).Milliseconds()
	applog.Info("[RAG/Indexer] Rebuild finished",
		"reindexed", report.Reindexed,
		"skipped", report.Skipped,
		"chunks", report.Chunks,
		"elapsed_ms", report.ElapsedMs,
	)
	return report, nil
}
