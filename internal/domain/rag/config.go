package rag

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config RAG core settings.
type Config struct {
	// Chunker
	ChunkSize    int     `json:"chunk_size" toml:"chunk_size"`
	ChunkOverlap float64 `json:"chunk_overlap" toml:"chunk_overlap"` // fraction of ChunkSize in [0,1)

	// Retrieval
	DefaultTopK      int      `json:"default_top_k" toml:"default_top_k"`
	KeywordWeight    float64  `json:"keyword_weight" toml:"keyword_weight"`
	SemanticWeight   float64  `json:"semantic_weight" toml:"semantic_weight"`
	ExactSearchLimit int      `json:"exact_search_limit" toml:"exact_search_limit"`
	LSHTables        int      `json:"lsh_tables" toml:"lsh_tables"`
	LSHBits          int      `json:"lsh_bits" toml:"lsh_bits"`
	LSHSeed          int64    `json:"lsh_seed" toml:"lsh_seed"`
	IndexShards      int      `json:"index_shards" toml:"index_shards"`
	StopWords        []string `json:"stop_words,omitempty" toml:"stop_words,omitempty"`

	// Embedding: hash | openai | ollama | none
	EmbeddingProvider string  `json:"embedding_provider" toml:"embedding_provider"`
	EmbeddingModel    string  `json:"embedding_model,omitempty" toml:"embedding_model,omitempty"`
	EmbeddingDims     int     `json:"embedding_dims" toml:"embedding_dims"`
	EmbeddingBaseURL  string  `json:"embedding_base_url,omitempty" toml:"embedding_base_url,omitempty"`
	EmbeddingAPIKey   string  `json:"-" toml:"-"`
	EmbeddingRPS      float64 `json:"embedding_rps,omitempty" toml:"embedding_rps,omitempty"`

	// Text cache
	CacheTTL        int `json:"cache_ttl" toml:"cache_ttl"` // seconds
	CacheMaxEntries int `json:"cache_max_entries" toml:"cache_max_entries"`

	// Ingestion
	IngestWorkers int `json:"ingest_workers" toml:"ingest_workers"`
	MaxFileSize   int `json:"max_file_size" toml:"max_file_size"` // MB

	// OCR
	OCRCommand       string  `json:"ocr_command" toml:"ocr_command"`
	OCRLanguages     string  `json:"ocr_languages" toml:"ocr_languages"`
	OCRMinConfidence float64 `json:"ocr_min_confidence" toml:"ocr_min_confidence"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:         512,
		ChunkOverlap:      0.15,
		DefaultTopK:       5,
		KeywordWeight:     0.5,
		SemanticWeight:    0.5,
		ExactSearchLimit:  10000,
		LSHTables:         8,
		LSHBits:           12,
		LSHSeed:           42,
		IndexShards:       16,
		EmbeddingProvider: "hash",
		EmbeddingDims:     256,
		CacheTTL:          86400,
		CacheMaxEntries:   1024,
		IngestWorkers:     4,
		MaxFileSize:       50,
		OCRCommand:        "tesseract",
		OCRLanguages:      "eng",
		OCRMinConfidence:  60,
	}
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if _, err := NewChunker(c.ChunkConfig()); err != nil {
		return err
	}
	if c.DefaultTopK <= 0 {
		return fmt.Errorf("default_top_k must be positive, got %d", c.DefaultTopK)
	}
	if c.KeywordWeight < 0 || c.SemanticWeight < 0 || c.KeywordWeight+c.SemanticWeight == 0 {
		return fmt.Errorf("retrieval weights must be non-negative and not both zero")
	}
	if math.IsNaN(c.KeywordWeight) || math.IsNaN(c.SemanticWeight) {
		return fmt.Errorf("retrieval weights must be numbers")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %d", c.CacheTTL)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache_max_entries must be positive, got %d", c.CacheMaxEntries)
	}
	switch strings.ToLower(c.EmbeddingProvider) {
	case "", "none", "hash", "openai", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider)
	}
	if c.HasEmbedding() && c.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding_dims must be positive, got %d", c.EmbeddingDims)
	}
	return nil
}

// ChunkConfig returns the chunker settings.
func (c *Config) ChunkConfig() ChunkConfig {
	return ChunkConfig{Size: c.ChunkSize, OverlapFraction: c.ChunkOverlap}
}

// CacheTTLDuration returns the text cache TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// MaxFileBytes returns the upload limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileSize) << 20
}

// HasEmbedding reports whether a semantic embedder is configured.
func (c *Config) HasEmbedding() bool {
	p := strings.ToLower(c.EmbeddingProvider)
	return p != "" && p != "none"
}
