package rag

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder is an offline embedder using signed feature hashing over
// tokens and character trigrams. It needs no model, is deterministic, and
// gives texts that share vocabulary a high cosine similarity.
type HashEmbedder struct {
	dims      int
	tokenizer *Tokenizer
}

// NewHashEmbedder creates a feature-hashing embedder of dims dimensions.
func NewHashEmbedder(dims int, tokenizer *Tokenizer) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	if tokenizer == nil {
		tokenizer = NewTokenizer(nil)
	}
	return &HashEmbedder{dims: dims, tokenizer: tokenizer}
}

func (e *HashEmbedder) Dims() int {
	return e.dims
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, tok := range e.tokenizer.Tokens(text) {
		e.add(vec, "w:"+tok, 1)
		padded := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "g:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
