package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	applog "docsearch/internal/platform/log"
)

// TextSource supplies the normalized text snippets are cut from.
type TextSource interface {
	Get(ctx context.Context, docID string) (string, bool)
}

// RetrieverConfig weights the hybrid blend.
type RetrieverConfig struct {
	KeywordWeight  float64
	SemanticWeight float64
}

// Retriever answers queries against an Index.
type Retriever struct {
	index     *Index
	tokenizer *Tokenizer
	texts     TextSource
	embedder  Embedder // optional
	cfg       RetrieverConfig
}

// NewRetriever creates a retriever. texts may be nil, in which case every
// result is marked ErrSnippetUnavailable.
func NewRetriever(index *Index, tokenizer *Tokenizer, texts TextSource, cfg RetrieverConfig) *Retriever {
	if cfg.KeywordWeight == 0 && cfg.SemanticWeight == 0 {
		cfg.KeywordWeight, cfg.SemanticWeight = 0.5, 0.5
	}
	return &Retriever{index: index, tokenizer: tokenizer, texts: texts, cfg: cfg}
}

// SetEmbedder enables semantic and hybrid retrieval.
func (r *Retriever) SetEmbedder(e Embedder) {
	r.embedder = e
}

// HasEmbedder reports whether semantic scoring is available.
func (r *Retriever) HasEmbedder() bool {
	return r.embedder != nil && r.index.Dims() > 0
}

// candidate is a chunk under consideration with both raw scores.
type candidate struct {
	chunk    *indexedChunk
	keyword  float64
	semantic float64
	matched  []string
	score    float64
}

// Search ranks chunks for req. An empty mode means hybrid. A non-positive
// TopK or unknown mode fails with ErrInvalidQuery; a blank query or an empty
// corpus yields an empty result. Semantic and hybrid degrade to keyword when
// no embedder is configured or the query cannot be embedded; Mode in the
// result reports what actually ran.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, req.Mode)
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidQuery, req.TopK)
	}

	result := &SearchResult{Results: []RankedResult{}, Mode: mode}
	if strings.TrimSpace(req.Query) == "" || r.index.Size() == 0 {
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}

	terms := r.tokenizer.UniqueTerms(req.Query)

	var queryVec []float32
	if mode != ModeKeyword {
		queryVec = r.embedQuery(ctx, req.Query)
		if queryVec == nil {
			mode = ModeKeyword
			result.Mode = mode
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cands []*candidate
	var err error
	r.index.view(func(v *indexView) {
		switch mode {
		case ModeKeyword:
			cands = keywordCandidates(v, terms)
		case ModeSemantic:
			cands = semanticCandidates(v, queryVec, req.TopK)
		default:
			cands, err = r.hybridCandidates(ctx, v, terms, queryVec, req.TopK)
		}
	})
	if err != nil {
		return nil, err
	}

	sortCandidates(cands)
	if len(cands) > req.TopK {
		cands = cands[:req.TopK]
	}

	result.Results = r.attachSnippets(ctx, cands)
	result.ElapsedMs = time.Since(start).Milliseconds()

	applog.Debug("[RAG/Retriever] Search",
		"mode", result.Mode,
		"top_k", req.TopK,
		"terms", len(terms),
		"results", len(result.Results),
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	if !r.HasEmbedder() {
		applog.Warn("[RAG/Retriever] No embedder configured, falling back to keyword")
		return nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 || len(vecs[0]) != r.index.Dims() {
		applog.Warn("[RAG/Retriever] Query embedding failed, falling back to keyword", "error", err)
		return nil
	}
	return unitVector(vecs[0])
}

func keywordCandidates(v *indexView, terms []string) []*candidate {
	hits := v.keywordScores(terms)
	out := make([]*candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, &candidate{chunk: h.chunk, keyword: h.score, matched: h.matched, score: h.score})
	}
	return out
}

func semanticCandidates(v *indexView, q []float32, k int) []*candidate {
	hits := v.nearest(q, k)
	out := make([]*candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, &candidate{chunk: h.chunk, semantic: h.score, score: h.score})
	}
	return out
}

// hybridCandidates unions keyword hits with the semantic top-M, scores every
// candidate on both sides, min-max normalizes each side over the candidate
// set and blends them with the configured weights.
func (r *Retriever) hybridCandidates(ctx context.Context, v *indexView, terms []string, q []float32, k int) ([]*candidate, error) {
	m := max(k*3, 20)

	var kwHits map[*indexedChunk]*keywordHit
	var vecHits []vectorHit
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		kwHits = v.keywordScores(terms)
		return nil
	})
	g.Go(func() error {
		vecHits = v.nearest(q, m)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byChunk := make(map[*indexedChunk]*candidate, len(kwHits)+len(vecHits))
	for ic, h := range kwHits {
		byChunk[ic] = &candidate{chunk: ic, keyword: h.score, matched: h.matched}
	}
	for _, h := range vecHits {
		if _, ok := byChunk[h.chunk]; !ok {
			byChunk[h.chunk] = &candidate{chunk: h.chunk}
		}
	}

	cands := make([]*candidate, 0, len(byChunk))
	for ic, c := range byChunk {
		c.semantic = v.similarity(q, ic)
		cands = append(cands, c)
	}

	kwNorm := minMax(cands, func(c *candidate) float64 { return c.keyword })
	semNorm := minMax(cands, func(c *candidate) float64 { return c.semantic })
	for i, c := range cands {
		c.score = r.cfg.KeywordWeight*kwNorm[i] + r.cfg.SemanticWeight*semNorm[i]
	}
	return cands, nil
}

// minMax maps values to [0,1]. When all values are equal, positive values
// map to 1 and the rest to 0.
func minMax(cands []*candidate, value func(*candidate) float64) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	lo, hi := value(cands[0]), value(cands[0])
	for _, c := range cands[1:] {
		x := value(c)
		lo, hi = min(lo, x), max(hi, x)
	}
	for i, c := range cands {
		x := value(c)
		switch {
		case hi == lo && x > 0:
			out[i] = 1
		case hi == lo:
			out[i] = 0
		default:
			out[i] = (x - lo) / (hi - lo)
		}
	}
	return out
}

// sortCandidates orders by score, then earlier ingestion time, then
// ingestion sequence, then lower chunk sequence, then chunk id.
func sortCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.chunk.ingestedAt.Equal(b.chunk.ingestedAt) {
			return a.chunk.ingestedAt.Before(b.chunk.ingestedAt)
		}
		if a.chunk.ingestSeq != b.chunk.ingestSeq {
			return a.chunk.ingestSeq < b.chunk.ingestSeq
		}
		if a.chunk.seq != b.chunk.seq {
			return a.chunk.seq < b.chunk.seq
		}
		return a.chunk.id < b.chunk.id
	})
}

// attachSnippets reads each document's text once and cuts every result's
// snippet from it. A missing text marks only the affected results.
func (r *Retriever) attachSnippets(ctx context.Context, cands []*candidate) []RankedResult {
	texts := make(map[string]string)
	missing := make(map[string]bool)

	out := make([]RankedResult, 0, len(cands))
	for _, c := range cands {
		ic := c.chunk
		rr := RankedResult{
			DocumentID: ic.docID,
			Chunk: ChunkRef{
				ChunkID:     ic.id,
				Sequence:    ic.seq,
				StartOffset: ic.start,
				EndOffset:   ic.end,
			},
			Score:         c.score,
			KeywordScore:  c.keyword,
			SemanticScore: c.semantic,
			MatchedTerms:  c.matched,
		}

		text, ok := texts[ic.docID]
		if !ok && !missing[ic.docID] {
			if r.texts != nil {
				text, ok = r.texts.Get(ctx, ic.docID)
			}
			if ok {
				texts[ic.docID] = text
			} else {
				missing[ic.docID] = true
			}
		}
		if ok && ic.start >= 0 && ic.end <= len(text) && ic.start <= ic.end {
			rr.Snippet = text[ic.start:ic.end]
		} else {
			rr.SnippetErr = ErrSnippetUnavailable
		}
		out = append(out, rr)
	}
	return out
}
