package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	applog "docsearch/internal/platform/log"
)

// EngineDeps are the collaborators an Engine is built from.
type EngineDeps struct {
	// Cache holds extracted text. Required.
	Cache *TextCache
	// Embedder enables semantic retrieval; nil means keyword only.
	Embedder Embedder
	// Sinks receive status changes.
	Sinks []StatusSink
	// Decoders are registered on top of the built-in ones, e.g. an ImageDecoder.
	Decoders []Decoder
}

type docRecord struct {
	doc      Document
	raw      []byte // kept while pending so the document can be retried
	cancel   context.CancelFunc
	running  bool
	deleting bool
}

// Engine is the ingestion and retrieval core: extract, cache, chunk, index
// and search documents.
type Engine struct {
	cfg       *Config
	extractor *Extractor
	chunker   *Chunker
	cache     *TextCache
	index     *Index
	indexer   *Indexer
	retriever *Retriever
	sinks     []StatusSink
	workers   *semaphore.Weighted
	seq       atomic.Uint64

	mu   sync.RWMutex
	docs map[string]*docRecord

	root context.Context
	stop context.CancelFunc
	jobs sync.WaitGroup
}

// NewEngine validates cfg and wires the core.
func NewEngine(cfg *Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rag config: %w", err)
	}
	if deps.Cache == nil {
		return nil, errors.New("rag engine: text cache is required")
	}
	chunker, err := NewChunker(cfg.ChunkConfig())
	if err != nil {
		return nil, err
	}

	dims := 0
	if deps.Embedder != nil {
		dims = deps.Embedder.Dims()
	}
	index := NewIndex(IndexConfig{
		Shards:           cfg.IndexShards,
		Dims:             dims,
		ExactSearchLimit: cfg.ExactSearchLimit,
		LSHTables:        cfg.LSHTables,
		LSHBits:          cfg.LSHBits,
		LSHSeed:          cfg.LSHSeed,
	})
	tokenizer := NewTokenizer(cfg.StopWords)

	indexer := NewIndexer(index, tokenizer)
	retriever := NewRetriever(index, tokenizer, deps.Cache, RetrieverConfig{
		KeywordWeight:  cfg.KeywordWeight,
		SemanticWeight: cfg.SemanticWeight,
	})
	if deps.Embedder != nil {
		indexer.SetEmbedder(deps.Embedder)
		retriever.SetEmbedder(deps.Embedder)
	}

	extractor := NewExtractor()
	for _, d := range deps.Decoders {
		extractor.Register(d)
	}

	workers := cfg.IngestWorkers
	if workers <= 0 {
		workers = 1
	}

	root, stop := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		extractor: extractor,
		chunker:   chunker,
		cache:     deps.Cache,
		index:     index,
		indexer:   indexer,
		retriever: retriever,
		sinks:     deps.Sinks,
		workers:   semaphore.NewWeighted(int64(workers)),
		docs:      make(map[string]*docRecord),
		root:      root,
		stop:      stop,
	}, nil
}

// SupportedKinds lists the media kinds with a registered decoder.
func (e *Engine) SupportedKinds() []MediaKind {
	return e.extractor.SupportedKinds()
}

// ── Ingestion ────────────────────────────────────────────────

// Ingest extracts, caches and indexes data synchronously. The returned
// document is extracted or failed; for a failure the error says why
// (ErrUnsupportedFormat or an *ExtractionError). If ctx ends first the
// document stays pending and can be retried.
func (e *Engine) Ingest(ctx context.Context, data []byte, kind MediaKind) (*Document, error) {
	id := e.register(ctx, data, kind)
	return e.process(ctx, id)
}

// Submit registers data as a pending document and ingests it in the
// background. The job is bound to the engine, not to ctx; stop it with
// CancelIngest.
func (e *Engine) Submit(ctx context.Context, data []byte, kind MediaKind) (*Document, error) {
	id := e.register(ctx, data, kind)
	doc, err := e.Document(id)
	if err != nil {
		return nil, err
	}
	e.startJob(id)
	return doc, nil
}

// Retry re-runs ingestion of a pending document synchronously.
func (e *Engine) Retry(ctx context.Context, id string) (*Document, error) {
	return e.process(ctx, id)
}

// CancelIngest aborts the background job of id. The document stays pending.
func (e *Engine) CancelIngest(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.docs[id]
	if !ok || rec.cancel == nil {
		return false
	}
	rec.cancel()
	return true
}

func (e *Engine) register(ctx context.Context, data []byte, kind MediaKind) string {
	doc := Document{
		ID:         uuid.NewString(),
		MediaKind:  kind,
		ByteLength: len(data),
		IngestedAt: time.Now().UTC(),
		Status:     StatusPending,
		seq:        e.seq.Add(1),
	}

	e.mu.Lock()
	e.docs[doc.ID] = &docRecord{doc: doc, raw: data}
	e.mu.Unlock()

	emitStatus(ctx, e.sinks, newStatusEvent(&doc, doc.IngestedAt))
	return doc.ID
}

func (e *Engine) startJob(id string) {
	jobCtx, cancel := context.WithCancel(e.root)

	e.mu.Lock()
	if rec, ok := e.docs[id]; ok {
		rec.cancel = cancel
	}
	e.mu.Unlock()

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		defer cancel()

		if _, err := e.process(jobCtx, id); err != nil && jobCtx.Err() == nil {
			applog.Warn("[RAG/Engine] Background ingestion failed", "doc_id", id, "error", err)
		}

		e.mu.Lock()
		if rec, ok := e.docs[id]; ok {
			rec.cancel = nil
		}
		e.mu.Unlock()
	}()
}

// process runs extraction through publish for a pending document.
func (e *Engine) process(ctx context.Context, id string) (*Document, error) {
	e.mu.Lock()
	rec, ok := e.docs[id]
	switch {
	case !ok || rec.deleting:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	case rec.doc.Status != StatusPending:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, rec.doc.Status)
	case rec.running:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is being ingested", ErrNotRetryable, id)
	}
	rec.running = true
	data, declared, doc := rec.raw, rec.doc.MediaKind, rec.doc
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		rec.running = false
		e.mu.Unlock()
	}()

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return e.pending(id, err)
	}
	defer e.workers.Release(1)

	start := time.Now()

	kind, err := ParseMediaKind(string(declared), data)
	if err != nil {
		return e.fail(ctx, id, declared, err)
	}
	if limit := e.cfg.MaxFileBytes(); limit > 0 && int64(len(data)) > limit {
		return e.fail(ctx, id, kind, extractionFailed(kind, "file exceeds %d MB", e.cfg.MaxFileSize))
	}

	ext, err := e.extractor.ExtractDocument(ctx, data, kind)
	if err != nil {
		if ctx.Err() != nil {
			return e.pending(id, ctx.Err())
		}
		return e.fail(ctx, id, kind, err)
	}

	if err := e.cache.Put(ctx, id, ext.Text, e.cfg.CacheTTLDuration()); err != nil {
		applog.Error("[RAG/Engine] Text cache write failed", "doc_id", id, "error", err)
	}

	chunks, err := e.chunker.Chunk(id, ext.Text)
	if err != nil {
		_ = e.cache.Evict(ctx, id)
		return e.fail(ctx, id, kind, err)
	}

	err = e.indexer.AddDocument(ctx, IndexedDocument{ID: id, IngestedAt: doc.IngestedAt, Seq: doc.seq}, chunks,
		func() bool { return e.commitExtracted(id, kind, ext.Pages, len(chunks)) })
	switch {
	case errors.Is(err, ErrPublishAborted):
		_ = e.cache.Evict(context.WithoutCancel(ctx), id)
		return nil, fmt.Errorf("%w: %s was deleted during ingestion", ErrDocumentNotFound, id)
	case err != nil && ctx.Err() != nil:
		return e.pending(id, ctx.Err())
	case err != nil:
		_ = e.cache.Evict(ctx, id)
		return e.fail(ctx, id, kind, err)
	}

	out, err := e.Document(id)
	if err != nil {
		return nil, err
	}
	emitStatus(ctx, e.sinks, newStatusEvent(out, time.Now().UTC()))

	applog.Info("[RAG/Engine] Document ingested",
		"doc_id", id,
		"kind", kind,
		"bytes", len(data),
		"chunks", len(chunks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// commitExtracted flips a pending document to extracted. It runs under the
// index shard lock, right before the chunks become visible.
func (e *Engine) commitExtracted(id string, kind MediaKind, pages, chunks int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.docs[id]
	if !ok || rec.deleting || rec.doc.Status != StatusPending {
		return false
	}
	rec.doc.Status = StatusExtracted
	rec.doc.MediaKind = kind
	rec.doc.Pages = pages
	rec.doc.ChunkCount = chunks
	rec.raw = nil
	return true
}

// pending leaves the document pending with its bytes and returns cause.
func (e *Engine) pending(id string, cause error) (*Document, error) {
	doc, err := e.Document(id)
	if err != nil {
		return nil, cause
	}
	applog.Info("[RAG/Engine] Ingestion interrupted, document left pending", "doc_id", id, "error", cause)
	return doc, cause
}

func (e *Engine) fail(ctx context.Context, id string, kind MediaKind, cause error) (*Document, error) {
	e.mu.Lock()
	rec, ok := e.docs[id]
	if !ok || rec.deleting {
		e.mu.Unlock()
		return nil, cause
	}
	rec.doc.Status = StatusFailed
	rec.doc.MediaKind = kind
	rec.doc.FailureReason = FailureReason(cause)
	rec.raw = nil
	doc := rec.doc
	e.mu.Unlock()

	applog.Warn("[RAG/Engine] Document failed", "doc_id", id, "kind", kind, "reason", doc.FailureReason)
	emitStatus(ctx, e.sinks, newStatusEvent(&doc, time.Now().UTC()))
	return &doc, cause
}

// ── Deletion ─────────────────────────────────────────────────

// Delete cancels any running ingestion of id, removes its chunks from both
// sub-indexes and evicts its cached text.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	rec, ok := e.docs[id]
	if !ok || rec.deleting {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	rec.deleting = true
	cancel := rec.cancel
	doc := rec.doc
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	err := e.indexer.RemoveDocument(ctx, id, func() {
		e.mu.Lock()
		delete(e.docs, id)
		e.mu.Unlock()
	})
	if err != nil {
		e.mu.Lock()
		rec.deleting = false
		e.mu.Unlock()
		return err
	}

	if err := e.cache.Evict(ctx, id); err != nil {
		applog.Warn("[RAG/Engine] Text cache evict failed", "doc_id", id, "error", err)
	}

	doc.Status = StatusDeleted
	emitStatus(ctx, e.sinks, newStatusEvent(&doc, time.Now().UTC()))
	return nil
}

// ── Queries ──────────────────────────────────────────────────

// Search ranks chunks for req.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	return e.retriever.Search(ctx, req)
}

// Health probes the cache backend and reports index size in chunks.
func (e *Engine) Health(ctx context.Context) Health {
	state := CacheDegraded
	if e.cache.Healthy(ctx) {
		state = CacheHealthy
	}
	e.mu.RLock()
	docs := len(e.docs)
	e.mu.RUnlock()
	return Health{CacheBackend: state, IndexSize: e.index.Size(), Documents: docs}
}

// Document returns a copy of the record of id.
func (e *Engine) Document(id string) (*Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.docs[id]
	if !ok || rec.deleting {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc := rec.doc
	return &doc, nil
}

// Documents lists all documents in ingestion order.
func (e *Engine) Documents() []Document {
	e.mu.RLock()
	out := make([]Document, 0, len(e.docs))
	for _, rec := range e.docs {
		if !rec.deleting {
			out = append(out, rec.doc)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// IndexStats reports what queries currently see.
func (e *Engine) IndexStats() IndexStats {
	return e.index.Stats()
}

// Rebuild re-chunks and re-embeds every extracted document from the cache.
// Documents whose text has expired keep their current entries.
func (e *Engine) Rebuild(ctx context.Context) (*RebuildReport, error) {
	return e.indexer.Rebuild(ctx, e.chunker, engineRebuildSource{e})
}

// Close cancels background ingestion and waits for the jobs to stop.
func (e *Engine) Close(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type engineRebuildSource struct{ e *Engine }

func (s engineRebuildSource) RebuildDocuments() []IndexedDocument {
	var out []IndexedDocument
	for _, d := range s.e.Documents() {
		if d.Status == StatusExtracted {
			out = append(out, IndexedDocument{ID: d.ID, IngestedAt: d.IngestedAt, Seq: d.seq})
		}
	}
	return out
}

func (s engineRebuildSource) RebuildText(ctx context.Context, docID string) (string, bool) {
	return s.e.cache.Get(ctx, docID)
}

func (s engineRebuildSource) RebuildCommit(docID string) bool {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	rec, ok := s.e.docs[docID]
	return ok && !rec.deleting && rec.doc.Status == StatusExtracted
}
