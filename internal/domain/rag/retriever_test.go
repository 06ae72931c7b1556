package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapTexts map[string]string

func (m mapTexts) Get(_ context.Context, docID string) (string, bool) {
	s, ok := m[docID]
	return s, ok
}

// failingEmbedder always errors, like an unreachable embedding API.
type failingEmbedder struct{ dims int }

func (f failingEmbedder) Dims() int { return f.dims }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type retrieverFixture struct {
	index     *Index
	indexer   *Indexer
	retriever *Retriever
	texts     mapTexts
	chunker   *Chunker
}

func newRetrieverFixture(t *testing.T, embedder Embedder) *retrieverFixture {
	t.Helper()
	tok := NewTokenizer(nil)
	dims := 0
	if embedder != nil {
		dims = embedder.Dims()
	}
	index := NewIndex(IndexConfig{Shards: 4, Dims: dims, ExactSearchLimit: 1000})
	texts := mapTexts{}
	f := &retrieverFixture{
		index:     index,
		indexer:   NewIndexer(index, tok),
		retriever: NewRetriever(index, tok, texts, RetrieverConfig{KeywordWeight: 0.5, SemanticWeight: 0.5}),
		texts:     texts,
	}
	if embedder != nil {
		f.indexer.SetEmbedder(embedder)
		f.retriever.SetEmbedder(embedder)
	}
	c, err := NewChunker(ChunkConfig{Size: 40})
	require.NoError(t, err)
	f.chunker = c
	return f
}

func (f *retrieverFixture) add(t *testing.T, id, text string, at time.Time, seq uint64) {
	t.Helper()
	chunks, err := f.chunker.Chunk(id, text)
	require.NoError(t, err)
	require.NoError(t, f.indexer.AddDocument(context.Background(), IndexedDocument{ID: id, IngestedAt: at, Seq: seq}, chunks, nil))
	f.texts[id] = text
}

func TestSearchRejectsInvalidQueries(t *testing.T) {
	f := newRetrieverFixture(t, nil)
	ctx := context.Background()

	_, err := f.retriever.Search(ctx, SearchRequest{Query: "x", TopK: 0})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = f.retriever.Search(ctx, SearchRequest{Query: "x", TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = f.retriever.Search(ctx, SearchRequest{Query: "x", TopK: 3, Mode: "fuzzy"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearchEmptyQueryAndCorpus(t *testing.T) {
	f := newRetrieverFixture(t, nil)
	ctx := context.Background()

	res, err := f.retriever.Search(ctx, SearchRequest{Query: "anything", TopK: 3})
	require.NoError(t, err)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)

	f.add(t, "d1", "some words here", time.Unix(1, 0), 1)
	for _, q := range []string{"", "   ", "\n\t"} {
		res, err = f.retriever.Search(ctx, SearchRequest{Query: q, TopK: 3, Mode: ModeKeyword})
		require.NoError(t, err)
		assert.NotNil(t, res.Results)
		assert.Empty(t, res.Results)
	}

	res, err = f.retriever.Search(ctx, SearchRequest{Query: "absent", TopK: 3, Mode: ModeKeyword})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestSearchKeywordTieBreak(t *testing.T) {
	f := newRetrieverFixture(t, nil)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f.add(t, "later", "alpha beta", t0.Add(time.Second), 1)
	f.add(t, "second", "alpha beta", t0, 3)
	f.add(t, "first", "alpha beta", t0, 2)

	res, err := f.retriever.Search(context.Background(), SearchRequest{Query: "alpha", TopK: 10, Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	var order []string
	for _, r := range res.Results {
		order = append(order, r.DocumentID)
	}
	assert.Equal(t, []string{"first", "second", "later"}, order)
	assert.Equal(t, res.Results[0].Score, res.Results[2].Score)
	assert.Equal(t, []string{"alpha"}, res.Results[0].MatchedTerms)
	assert.Equal(t, "alpha beta", res.Results[0].Snippet)
}

func TestSearchTopKTruncates(t *testing.T) {
	f := newRetrieverFixture(t, nil)
	for i, id := range []string{"a", "b", "c", "d"} {
		f.add(t, id, "shared term", time.Unix(int64(i), 0), uint64(i))
	}
	res, err := f.retriever.Search(context.Background(), SearchRequest{Query: "shared", TopK: 2, Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].DocumentID)
	assert.Equal(t, "b", res.Results[1].DocumentID)
}

func TestSearchHybrid(t *testing.T) {
	f := newRetrieverFixture(t, NewHashEmbedder(1024, NewTokenizer(nil)))
	t0 := time.Unix(100, 0)
	f.add(t, "zep", "zeppelins drift over the hills", t0, 1)
	f.add(t, "fruit", "apples grow in the orchards", t0, 2)
	f.add(t, "water", "rivers carry water to the sea", t0, 3)

	res, err := f.retriever.Search(context.Background(), SearchRequest{Query: "zeppelins hills", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, res.Mode)
	require.NotEmpty(t, res.Results)

	top := res.Results[0]
	assert.Equal(t, "zep", top.DocumentID)
	assert.InDelta(t, 1.0, top.Score, 1e-9)
	assert.Greater(t, top.KeywordScore, 0.0)
	assert.Greater(t, top.SemanticScore, 0.0)
	assert.Equal(t, []string{"zeppelins", "hills"}, top.MatchedTerms)
	for _, r := range res.Results[1:] {
		assert.Less(t, r.Score, top.Score)
		assert.Zero(t, r.KeywordScore)
	}
}

func TestSearchSemantic(t *testing.T) {
	f := newRetrieverFixture(t, NewHashEmbedder(1024, NewTokenizer(nil)))
	f.add(t, "zep", "zeppelins drift over the hills", time.Unix(1, 0), 1)
	f.add(t, "fruit", "apples grow in the orchards", time.Unix(2, 0), 2)

	res, err := f.retriever.Search(context.Background(), SearchRequest{Query: "drifting zeppelin", TopK: 1, Mode: ModeSemantic})
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, res.Mode)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "zep", res.Results[0].DocumentID)
	assert.Zero(t, res.Results[0].KeywordScore)
}

func TestSearchDegradesToKeyword(t *testing.T) {
	ctx := context.Background()

	noEmbedder := newRetrieverFixture(t, nil)
	noEmbedder.add(t, "d1", "zeppelins drift", time.Unix(1, 0), 1)
	res, err := noEmbedder.retriever.Search(ctx, SearchRequest{Query: "zeppelins", TopK: 1, Mode: ModeSemantic})
	require.NoError(t, err)
	assert.Equal(t, ModeKeyword, res.Mode)
	require.Len(t, res.Results, 1)

	broken := newRetrieverFixture(t, failingEmbedder{dims: 8})
	broken.add(t, "d1", "zeppelins drift", time.Unix(1, 0), 1)
	assert.Zero(t, broken.index.Stats().Vectors, "a failed embed indexes keywords only")
	res, err = broken.retriever.Search(ctx, SearchRequest{Query: "zeppelins", TopK: 1, Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Equal(t, ModeKeyword, res.Mode)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "d1", res.Results[0].DocumentID)
}

func TestSearchSnippetUnavailable(t *testing.T) {
	f := newRetrieverFixture(t, nil)
	f.add(t, "kept", "orchard apples", time.Unix(1, 0), 1)
	f.add(t, "expired", "orchard pears", time.Unix(2, 0), 2)
	delete(f.texts, "expired")

	res, err := f.retriever.Search(context.Background(), SearchRequest{Query: "orchard", TopK: 5, Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	byDoc := map[string]RankedResult{}
	for _, r := range res.Results {
		byDoc[r.DocumentID] = r
	}
	assert.True(t, byDoc["kept"].SnippetAvailable())
	assert.Equal(t, "orchard apples", byDoc["kept"].Snippet)
	assert.False(t, byDoc["expired"].SnippetAvailable())
	assert.ErrorIs(t, byDoc["expired"].SnippetErr, ErrSnippetUnavailable)
	assert.Empty(t, byDoc["expired"].Snippet)
}

func TestMinMax(t *testing.T) {
	cands := []*candidate{{keyword: 2}, {keyword: 4}, {keyword: 3}}
	assert.Equal(t, []float64{0, 1, 0.5}, minMax(cands, func(c *candidate) float64 { return c.keyword }))

	equal := []*candidate{{keyword: 2}, {keyword: 2}}
	assert.Equal(t, []float64{1, 1}, minMax(equal, func(c *candidate) float64 { return c.keyword }))

	zero := []*candidate{{}, {}}
	assert.Equal(t, []float64{0, 0}, minMax(zero, func(c *candidate) float64 { return c.keyword }))
}
