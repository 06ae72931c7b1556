package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	applog "docsearch/internal/platform/log"
)

// Extraction is the normalized text of one document plus decoder metadata.
type Extraction struct {
	Text  string
	Pages int
}

// Extractor routes bytes to the decoder registered for their media kind and
// normalizes the result.
type Extractor struct {
	mu       sync.RWMutex
	decoders map[MediaKind]Decoder
}

// NewExtractor creates an extractor with the built-in text, markdown, PDF and
// DOCX decoders. Image support is added by registering an ImageDecoder.
func NewExtractor() *Extractor {
	x := &Extractor{decoders: make(map[MediaKind]Decoder)}
	x.Register(&PlainTextDecoder{})
	x.Register(&MarkdownDecoder{})
	x.Register(&PDFDecoder{})
	x.Register(&DOCXDecoder{})
	return x
}

// Register adds or replaces the decoder for each of its kinds.
func (x *Extractor) Register(d Decoder) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, k := range d.Kinds() {
		x.decoders[k] = d
	}
}

// Supports reports whether a decoder is registered for kind.
func (x *Extractor) Supports(kind MediaKind) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.decoders[kind]
	return ok
}

// SupportedKinds lists the registered kinds, sorted.
func (x *Extractor) SupportedKinds() []MediaKind {
	x.mu.RLock()
	defer x.mu.RUnlock()
	kinds := make([]MediaKind, 0, len(x.decoders))
	for k := range x.decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Extract returns the normalized text of data.
func (x *Extractor) Extract(ctx context.Context, data []byte, kind MediaKind) (string, error) {
	res, err := x.ExtractDocument(ctx, data, kind)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ExtractDocument is Extract plus decoder metadata such as the page count.
// It fails with ErrUnsupportedFormat when no decoder handles kind and with an
// *ExtractionError when the decoder produced no usable text. A cancelled ctx
// returns ctx.Err().
func (x *Extractor) ExtractDocument(ctx context.Context, data []byte, kind MediaKind) (*Extraction, error) {
	x.mu.RLock()
	dec, ok := x.decoders[kind]
	x.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, kind, joinKinds(x.SupportedKinds()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, extractionFailed(kind, "empty file")
	}

	res, err := safeDecode(ctx, dec, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrExtractionFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, extractionFailed(kind, "%v", err)
	}

	text := Normalize(res.Text)
	if text == "" {
		return nil, extractionFailed(kind, "no usable text")
	}

	applog.Debug("[RAG/Extractor] Text extracted", "kind", kind, "bytes", len(data), "chars", len(text), "pages", res.Pages)
	return &Extraction{Text: text, Pages: res.Pages}, nil
}

// safeDecode turns a decoder panic on malformed input into an error.
func safeDecode(ctx context.Context, dec Decoder, data []byte) (res *DecodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("malformed input: %v", r)
		}
	}()
	res, err = dec.Decode(ctx, data)
	if err == nil && res == nil {
		err = fmt.Errorf("decoder returned no result")
	}
	return res, err
}

func joinKinds(kinds []MediaKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
