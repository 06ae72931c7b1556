package bootstrap

import (
	"fmt"

	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

// NewEmbedder builds the embedder named by cfg.EmbeddingProvider. It returns
// nil for "none", which leaves retrieval keyword only.
func NewEmbedder(cfg *rag.Config) (rag.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "", "none":
		applog.Info("[Bootstrap] No embedding provider, semantic retrieval disabled")
		return nil, nil

	case "hash":
		e := rag.NewHashEmbedder(cfg.EmbeddingDims, rag.NewTokenizer(cfg.StopWords))
		applog.Info("[Bootstrap] Hash embedder initialized", "dims", e.Dims())
		return e, nil

	case "openai":
		e := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  cfg.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
			Dims:    cfg.EmbeddingDims,
			RPS:     cfg.EmbeddingRPS,
		})
		applog.Info("[Bootstrap] OpenAI-compatible embedder initialized",
			"base_url", cfg.EmbeddingBaseURL, "model", cfg.EmbeddingModel, "dims", e.Dims())
		return e, nil

	case "ollama":
		e, err := rag.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}
		applog.Info("[Bootstrap] Ollama embedder initialized", "model", cfg.EmbeddingModel, "dims", e.Dims())
		return e, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
}

// NewDecoders returns the optional decoders whose tools are installed.
// Images need the tesseract binary.
func NewDecoders(cfg *rag.Config) []rag.Decoder {
	ocr := rag.NewTesseractEngine(cfg.OCRCommand, cfg.OCRLanguages)
	if !ocr.Available() {
		applog.Warn("[Bootstrap] OCR command not found, image ingestion disabled", "command", cfg.OCRCommand)
		return nil
	}
	applog.Info("[Bootstrap] OCR enabled", "command", cfg.OCRCommand, "languages", cfg.OCRLanguages)
	return []rag.Decoder{rag.NewImageDecoder(ocr, cfg.OCRMinConfidence)}
}
