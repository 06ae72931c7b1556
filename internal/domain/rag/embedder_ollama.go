package rag

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	applog "docsearch/internal/platform/log"
)

// OllamaEmbedder embeds with a local Ollama server.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
	dims   int
}

// NewOllamaEmbedder connects to host (default http://localhost:11434).
func NewOllamaEmbedder(host, model string, dims int) (*OllamaEmbedder, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims <= 0 {
		dims = 768
	}
	cli := ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	return &OllamaEmbedder{client: cli, model: model, dims: dims}, nil
}

func (e *OllamaEmbedder) Dims() int {
	return e.dims
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors", len(texts))
	}
	for _, v := range res.Embeddings {
		if len(v) != e.dims {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), e.dims)
		}
	}

	applog.Debug("[RAG/Embedder] Ollama batch embedded",
		"count", len(texts),
		"model", e.model,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res.Embeddings, nil
}
