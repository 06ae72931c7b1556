package rag

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// IndexConfig sizes an Index.
type IndexConfig struct {
	Shards int
	// Dims is the embedding size; 0 disables the vector sub-index.
	Dims             int
	ExactSearchLimit int
	LSHTables        int
	LSHBits          int
	LSHSeed          int64
}

// ChunkEntry is a chunk ready to publish: its postings and embedding are
// computed before the index is locked.
type ChunkEntry struct {
	Chunk  Chunk
	Terms  map[string]int
	Length int
	Vector []float32
}

// DocumentEntry is everything the index stores for one document.
type DocumentEntry struct {
	DocumentID string
	IngestedAt time.Time
	IngestSeq  uint64
	Chunks     []ChunkEntry
}

// IndexStats counts what is visible to queries.
type IndexStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Vectors   int `json:"vectors"`
}

type indexedChunk struct {
	id         string
	docID      string
	seq        int
	start, end int
	length     int
	terms      map[string]int
	vector     []float32 // unit length
	sigs       []uint64
	ingestedAt time.Time
	ingestSeq  uint64
}

type shard struct {
	mu       sync.RWMutex
	docs     map[string][]*indexedChunk
	chunks   map[string]*indexedChunk
	postings map[string]map[string]int // term -> chunk id -> tf
	totalLen int
	vectors  int
	buckets  []map[uint64][]*indexedChunk // per LSH table
}

// Index holds the keyword and vector sub-indexes, sharded by document id.
// A document's entries live in one shard and are published or removed under
// that shard's write lock only. Queries read-lock every shard in order, so
// they see each document whole or not at all.
type Index struct {
	cfg    IndexConfig
	shards []*shard
	lsh    *hyperplanes

	chunkCount atomic.Int64
}

// NewIndex creates an empty index.
func NewIndex(cfg IndexConfig) *Index {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.LSHTables <= 0 {
		cfg.LSHTables = 8
	}
	if cfg.LSHBits <= 0 || cfg.LSHBits > 64 {
		cfg.LSHBits = 12
	}
	if cfg.ExactSearchLimit < 0 {
		cfg.ExactSearchLimit = 0
	}

	ix := &Index{cfg: cfg, shards: make([]*shard, cfg.Shards)}
	for i := range ix.shards {
		s := &shard{
			docs:     make(map[string][]*indexedChunk),
			chunks:   make(map[string]*indexedChunk),
			postings: make(map[string]map[string]int),
			buckets:  make([]map[uint64][]*indexedChunk, cfg.LSHTables),
		}
		for t := range s.buckets {
			s.buckets[t] = make(map[uint64][]*indexedChunk)
		}
		ix.shards[i] = s
	}
	if cfg.Dims > 0 {
		ix.lsh = newHyperplanes(cfg.LSHTables, cfg.LSHBits, cfg.Dims, cfg.LSHSeed)
	}
	return ix
}

// Dims returns the vector dimensionality, 0 when vectors are disabled.
func (ix *Index) Dims() int {
	return ix.cfg.Dims
}

func (ix *Index) shardFor(docID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))
	return ix.shards[h.Sum32()%uint32(len(ix.shards))]
}

// Publish makes a document's chunks visible to queries in one step,
// replacing any previous entries of the same id. commit, if set, runs under
// the shard lock before the entries are inserted; returning false aborts the
// publish with ErrPublishAborted and leaves the index untouched.
func (ix *Index) Publish(entry *DocumentEntry, commit func() bool) error {
	prepared := make([]*indexedChunk, 0, len(entry.Chunks))
	for _, ce := range entry.Chunks {
		ic := &indexedChunk{
			id:         ce.Chunk.ID(),
			docID:      entry.DocumentID,
			seq:        ce.Chunk.Sequence,
			start:      ce.Chunk.StartOffset,
			end:        ce.Chunk.EndOffset,
			length:     ce.Length,
			terms:      ce.Terms,
			ingestedAt: entry.IngestedAt,
			ingestSeq:  entry.IngestSeq,
		}
		if ce.Vector != nil {
			if len(ce.Vector) != ix.cfg.Dims {
				return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, ic.id, len(ce.Vector), ix.cfg.Dims)
			}
			ic.vector = unitVector(ce.Vector)
			ic.sigs = ix.lsh.signatures(ic.vector)
		}
		prepared = append(prepared, ic)
	}

	s := ix.shardFor(entry.DocumentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if commit != nil && !commit() {
		return ErrPublishAborted
	}
	ix.removeLocked(s, entry.DocumentID)
	for _, ic := range prepared {
		s.chunks[ic.id] = ic
		for term, tf := range ic.terms {
			p := s.postings[term]
			if p == nil {
				p = make(map[string]int)
				s.postings[term] = p
			}
			p[ic.id] = tf
		}
		s.totalLen += ic.length
		if ic.vector != nil {
			for t, sig := range ic.sigs {
				s.buckets[t][sig] = append(s.buckets[t][sig], ic)
			}
			s.vectors++
		}
	}
	s.docs[entry.DocumentID] = prepared
	ix.chunkCount.Add(int64(len(prepared)))
	return nil
}

// Remove deletes every entry of docID from both sub-indexes in one step.
// Unknown ids are a no-op. onRemove, if set, runs under the shard lock after
// the entries are gone.
func (ix *Index) Remove(docID string, onRemove func()) bool {
	s := ix.shardFor(docID)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := ix.removeLocked(s, docID)
	if onRemove != nil {
		onRemove()
	}
	return removed
}

func (ix *Index) removeLocked(s *shard, docID string) bool {
	chunks, ok := s.docs[docID]
	if !ok {
		return false
	}
	for _, ic := range chunks {
		delete(s.chunks, ic.id)
		for term := range ic.terms {
			if p := s.postings[term]; p != nil {
				delete(p, ic.id)
				if len(p) == 0 {
					delete(s.postings, term)
				}
			}
		}
		s.totalLen -= ic.length
		if ic.vector != nil {
			for t, sig := range ic.sigs {
				s.buckets[t][sig] = removeChunk(s.buckets[t][sig], ic)
				if len(s.buckets[t][sig]) == 0 {
					delete(s.buckets[t], sig)
				}
			}
			s.vectors--
		}
	}
	delete(s.docs, docID)
	ix.chunkCount.Add(-int64(len(chunks)))
	return true
}

func removeChunk(list []*indexedChunk, target *indexedChunk) []*indexedChunk {
	out := list[:0]
	for _, ic := range list {
		if ic != target {
			out = append(out, ic)
		}
	}
	return out
}

// Has reports whether docID has published entries.
func (ix *Index) Has(docID string) bool {
	s := ix.shardFor(docID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

// Stats returns document, chunk and vector counts.
func (ix *Index) Stats() IndexStats {
	var st IndexStats
	ix.view(func(v *indexView) {
		for _, s := range v.shards {
			st.Documents += len(s.docs)
			st.Chunks += len(s.chunks)
			st.Vectors += s.vectors
		}
	})
	return st
}

// Size is the number of indexed chunks.
func (ix *Index) Size() int {
	return int(ix.chunkCount.Load())
}

// Reset drops every entry.
func (ix *Index) Reset() {
	for _, s := range ix.shards {
		s.mu.Lock()
		for docID := range s.docs {
			ix.removeLocked(s, docID)
		}
		s.mu.Unlock()
	}
}

// ── Read view ────────────────────────────────────────────────

// indexView is a consistent read-only snapshot of all shards.
type indexView struct {
	ix     *Index
	shards []*shard
}

// view runs fn with every shard read-locked. Locks are taken in a fixed
// order; writers hold a single shard lock, so this cannot deadlock.
func (ix *Index) view(fn func(v *indexView)) {
	for _, s := range ix.shards {
		s.mu.RLock()
	}
	defer func() {
		for i := len(ix.shards) - 1; i >= 0; i-- {
			ix.shards[i].mu.RUnlock()
		}
	}()
	fn(&indexView{ix: ix, shards: ix.shards})
}

func (v *indexView) chunkCount() int {
	n := 0
	for _, s := range v.shards {
		n += len(s.chunks)
	}
	return n
}

func (v *indexView) vectorCount() int {
	n := 0
	for _, s := range v.shards {
		n += s.vectors
	}
	return n
}

func (v *indexView) chunk(docID, chunkID string) *indexedChunk {
	return v.ix.shardFor(docID).chunks[chunkID]
}

func unitVector(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
