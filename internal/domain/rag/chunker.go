package rag

import (
	"fmt"
	"math"
	"unicode"
)

// ChunkConfig sizes chunks in characters (runes).
type ChunkConfig struct {
	Size            int     `json:"size"`
	OverlapFraction float64 `json:"overlap_fraction"`
}

// Overlap is the number of characters shared by consecutive chunks.
func (c ChunkConfig) Overlap() int {
	return int(math.Floor(float64(c.Size) * c.OverlapFraction))
}

// Validate fails with ErrInvalidChunkConfig for a non-positive size or a
// fraction outside [0,1).
func (c ChunkConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunkConfig, c.Size)
	}
	f := c.OverlapFraction
	if math.IsNaN(f) || f < 0 || f >= 1 {
		return fmt.Errorf("%w: overlap fraction must be in [0,1), got %v", ErrInvalidChunkConfig, f)
	}
	return nil
}

// Chunker splits normalized text into overlapping windows.
//
// A chunk ends at the best break inside [target-tol, target]: paragraph
// break, then line break, then sentence end, then whitespace, else a hard
// cut at target. The next chunk starts exactly Overlap characters before
// the previous end, so chunks cover the text with no gaps.
type Chunker struct {
	cfg     ChunkConfig
	overlap int
	tol     int
}

// NewChunker validates cfg and builds a chunker.
func NewChunker(cfg ChunkConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	overlap := cfg.Overlap()
	// tol keeps every break strictly past start+overlap so chunking always advances.
	tol := min(cfg.Size/5, cfg.Size-overlap-1)
	if tol < 0 {
		tol = 0
	}
	return &Chunker{cfg: cfg, overlap: overlap, tol: tol}, nil
}

// Config returns the chunker settings.
func (c *Chunker) Config() ChunkConfig {
	return c.cfg
}

// Chunk splits text into chunks of docID. Empty text yields no chunks.
// The result is a plain slice and identical for identical input.
func (c *Chunker) Chunk(docID, text string) ([]Chunk, error) {
	if c == nil || c.cfg.Validate() != nil {
		return nil, fmt.Errorf("%w: chunker not initialized", ErrInvalidChunkConfig)
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)

	// byteAt[i] is the byte offset of rune i; byteAt[n] == len(text).
	byteAt := make([]int, 0, n+1)
	for i := range text {
		byteAt = append(byteAt, i)
	}
	byteAt = append(byteAt, len(text))

	var chunks []Chunk
	start := 0
	for seq := 0; ; seq++ {
		end := start + c.cfg.Size
		if end >= n {
			end = n
		} else {
			end = c.breakPoint(runes, end)
		}

		chunks = append(chunks, Chunk{
			DocumentID:  docID,
			Sequence:    seq,
			StartOffset: byteAt[start],
			EndOffset:   byteAt[end],
			Text:        text[byteAt[start]:byteAt[end]],
		})

		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// breakPoint picks the split index for a chunk whose hard limit is target.
func (c *Chunker) breakPoint(runes []rune, target int) int {
	if c.tol == 0 {
		return target
	}
	lo := target - c.tol

	for _, accept := range []func(b int) bool{
		func(b int) bool { return b >= 2 && runes[b-1] == '\n' && runes[b-2] == '\n' },
		func(b int) bool { return runes[b-1] == '\n' },
		func(b int) bool { return isSentenceEnd(runes[b-1]) && unicode.IsSpace(runes[b]) },
		func(b int) bool { return unicode.IsSpace(runes[b-1]) },
	} {
		for b := target; b >= lo; b-- {
			if accept(b) {
				return b
			}
		}
	}
	return target
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
