package rag

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEntry(tok *Tokenizer, docID string, texts ...string) *DocumentEntry {
	entry := &DocumentEntry{DocumentID: docID, IngestedAt: time.Unix(0, 0)}
	offset := 0
	for i, text := range texts {
		terms := tok.TermFrequencies(text)
		entry.Chunks = append(entry.Chunks, ChunkEntry{
			Chunk: Chunk{
				DocumentID:  docID,
				Sequence:    i,
				StartOffset: offset,
				EndOffset:   offset + len(text),
				Text:        text,
			},
			Terms:  terms,
			Length: len(tok.Tokens(text)),
		})
		offset += len(text)
	}
	return entry
}

func randomVector(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestIndexPublishAndRemove(t *testing.T) {
	tok := NewTokenizer(nil)
	ix := NewIndex(IndexConfig{Shards: 4})

	require.NoError(t, ix.Publish(textEntry(tok, "d1", "red apples", "green pears"), nil))
	require.NoError(t, ix.Publish(textEntry(tok, "d2", "red wine"), nil))

	assert.Equal(t, IndexStats{Documents: 2, Chunks: 3}, ix.Stats())
	assert.Equal(t, 3, ix.Size())
	assert.True(t, ix.Has("d1"))

	// Republishing replaces the earlier entries.
	require.NoError(t, ix.Publish(textEntry(tok, "d1", "only one chunk now"), nil))
	assert.Equal(t, 2, ix.Size())

	called := false
	assert.True(t, ix.Remove("d1", func() { called = true }))
	assert.True(t, called)
	assert.False(t, ix.Has("d1"))
	assert.Equal(t, 1, ix.Size())

	called = false
	assert.False(t, ix.Remove("unknown", func() { called = true }), "unknown ids are a no-op")
	assert.True(t, called)
	assert.Equal(t, 1, ix.Size())

	ix.view(func(v *indexView) {
		hits := v.keywordScores([]string{"red"})
		require.Len(t, hits, 1)
		for ic := range hits {
			assert.Equal(t, "d2", ic.docID)
		}
		assert.Empty(t, v.keywordScores([]string{"apples"}), "postings of removed chunks are gone")
	})

	ix.Reset()
	assert.Equal(t, IndexStats{}, ix.Stats())
	assert.Zero(t, ix.Size())
}

func TestIndexPublishCommitVeto(t *testing.T) {
	tok := NewTokenizer(nil)
	ix := NewIndex(IndexConfig{})

	err := ix.Publish(textEntry(tok, "d1", "text"), func() bool { return false })
	assert.ErrorIs(t, err, ErrPublishAborted)
	assert.False(t, ix.Has("d1"))
	assert.Zero(t, ix.Size())

	require.NoError(t, ix.Publish(textEntry(tok, "d1", "text"), func() bool { return true }))
	assert.True(t, ix.Has("d1"))
}

func TestIndexRejectsWrongDimensions(t *testing.T) {
	tok := NewTokenizer(nil)
	ix := NewIndex(IndexConfig{Dims: 4})

	entry := textEntry(tok, "d1", "text")
	entry.Chunks[0].Vector = []float32{1, 2, 3}
	assert.ErrorIs(t, ix.Publish(entry, nil), ErrDimensionMismatch)
	assert.False(t, ix.Has("d1"))
}

func TestBM25PrefersRarerAndDenserMatches(t *testing.T) {
	tok := NewTokenizer(nil)
	ix := NewIndex(IndexConfig{})
	require.NoError(t, ix.Publish(textEntry(tok, "d1",
		"zeppelin zeppelin hills",
		"zeppelin hills rivers oceans orchards pears",
		"hills rivers",
	), nil))

	ix.view(func(v *indexView) {
		hits := v.keywordScores([]string{"zeppelin", "hills"})
		require.Len(t, hits, 3)

		byID := make(map[string]*keywordHit)
		for ic, h := range hits {
			byID[ic.id] = h
		}
		dense, sparse, hillsOnly := byID["d1_chunk_0"], byID["d1_chunk_1"], byID["d1_chunk_2"]
		assert.Greater(t, dense.score, sparse.score)
		assert.Greater(t, sparse.score, hillsOnly.score)
		assert.Equal(t, []string{"zeppelin", "hills"}, dense.matched)
		assert.Equal(t, []string{"hills"}, hillsOnly.matched)
	})
}

func vectorIndex(t *testing.T, exactLimit, n int) (*Index, [][]float32) {
	t.Helper()
	const dims = 16
	tok := NewTokenizer(nil)
	rng := rand.New(rand.NewPCG(3, 4))
	ix := NewIndex(IndexConfig{Shards: 4, Dims: dims, ExactSearchLimit: exactLimit, LSHTables: 8, LSHBits: 4, LSHSeed: 9})

	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = randomVector(rng, dims)
		entry := textEntry(tok, fmt.Sprintf("v%03d", i), "vector")
		entry.Chunks[0].Vector = vecs[i]
		require.NoError(t, ix.Publish(entry, nil))
	}
	return ix, vecs
}

func TestNearestExact(t *testing.T) {
	ix, vecs := vectorIndex(t, 1000, 50)
	assert.Equal(t, 50, ix.Stats().Vectors)

	ix.view(func(v *indexView) {
		hits := v.nearest(vecs[7], 5)
		require.Len(t, hits, 5)
		assert.Equal(t, "v007", hits[0].chunk.docID)
		assert.InDelta(t, 1.0, hits[0].score, 1e-5)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].score, hits[i].score)
		}

		assert.Nil(t, v.nearest([]float32{1, 2}, 5), "wrong query size")
		assert.Nil(t, v.nearest(vecs[0], 0))
	})
}

func TestNearestApproximate(t *testing.T) {
	ix, vecs := vectorIndex(t, 0, 300)

	ix.view(func(v *indexView) {
		for _, i := range []int{0, 42, 299} {
			hits := v.nearest(vecs[i], 1)
			require.Len(t, hits, 1)
			assert.Equal(t, fmt.Sprintf("v%03d", i), hits[0].chunk.docID, "a stored vector collides with itself")
		}

		// Asking for more than LSH proposes falls back to an exact scan.
		all := v.nearest(vecs[0], 300)
		assert.Len(t, all, 300)
	})
}

func TestNearestIsDeterministicForASeed(t *testing.T) {
	a, vecs := vectorIndex(t, 0, 200)
	b, _ := vectorIndex(t, 0, 200)

	q := vecs[11]
	var ha, hb []string
	a.view(func(v *indexView) {
		for _, h := range v.nearest(q, 10) {
			ha = append(ha, h.chunk.id)
		}
	})
	b.view(func(v *indexView) {
		for _, h := range v.nearest(q, 10) {
			hb = append(hb, h.chunk.id)
		}
	})
	assert.Equal(t, ha, hb)
}

func TestRemoveClearsVectorBuckets(t *testing.T) {
	ix, vecs := vectorIndex(t, 0, 20)
	for i := 0; i < 20; i++ {
		ix.Remove(fmt.Sprintf("v%03d", i), nil)
	}
	assert.Equal(t, IndexStats{}, ix.Stats())
	ix.view(func(v *indexView) {
		assert.Empty(t, v.nearest(vecs[0], 3))
		for _, s := range v.shards {
			for _, table := range s.buckets {
				assert.Empty(t, table)
			}
		}
	})
}
