package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"docsearch/internal/domain/rag"
)

// AppConfig is the process-wide configuration. It is loaded once at startup
// and handed to each module.
type AppConfig struct {
	LogLevel  string         `json:"log_level" toml:"log_level"`
	LogFormat string         `json:"log_format" toml:"log_format"`
	Server    ServerConfig   `json:"server" toml:"server"`
	Database  DatabaseConfig `json:"database" toml:"database"`
	SQLite    SQLiteConfig   `json:"sqlite" toml:"sqlite"`
	Redis     RedisConfig    `json:"redis" toml:"redis"`
	AMQP      AMQPConfig     `json:"amqp" toml:"amqp"`
	RAG       rag.Config     `json:"rag" toml:"rag"`
}

type ServerConfig struct {
	Host                string `json:"host" toml:"host"`
	Port                int    `json:"port" toml:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" toml:"write_timeout_seconds"`
}

// DatabaseConfig enables the PostgreSQL document status store when URL is set.
type DatabaseConfig struct {
	URL                    string `json:"url" toml:"url"`
	MaxOpenConns           int    `json:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" toml:"conn_max_lifetime_seconds"`
}

// SQLiteConfig enables the embedded document status store when Path is set.
type SQLiteConfig struct {
	Path string `json:"path" toml:"path"`
}

// RedisConfig points the text cache at a shared Redis. Empty means the
// in-process store only.
type RedisConfig struct {
	URL string `json:"url" toml:"url"`
}

// AMQPConfig enables publishing document status events to RabbitMQ.
type AMQPConfig struct {
	URL   string `json:"url" toml:"url"`
	Queue string `json:"queue" toml:"queue"`
}

// Default returns the built-in defaults.
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		AMQP: AMQPConfig{
			Queue: "docsearch.document_status",
		},
		RAG: *ragCfg,
	}
}

// Load builds the configuration: defaults, then the file named by
// APP_CONFIG_FILE (.json or .toml), then environment variables. A .env file
// in the working directory is loaded into the environment first.
func Load() (*AppConfig, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".json", "":
		err = json.Unmarshal(data, c)
	default:
		return fmt.Errorf("APP_CONFIG_FILE %q: unsupported extension, use .json or .toml", path)
	}
	if err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. A set but malformed numeric
// value is an error rather than silently ignored.
func (c *AppConfig) applyEnv() error {
	e := &envReader{}

	e.String("LOG_LEVEL", &c.LogLevel)
	e.String("LOG_FORMAT", &c.LogFormat)

	e.String("HOST", &c.Server.Host)
	e.Int("PORT", &c.Server.Port)
	e.Int("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	e.Int("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	e.String("DATABASE_URL", &c.Database.URL)
	e.Int("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.Int("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	e.Int("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	e.String("SQLITE_PATH", &c.SQLite.Path)
	e.String("REDIS_URL", &c.Redis.URL)
	e.String("AMQP_URL", &c.AMQP.URL)
	e.String("AMQP_QUEUE", &c.AMQP.Queue)

	// RAG
	e.Int("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	e.Float64("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	e.Int("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	e.Float64("RAG_KEYWORD_WEIGHT", &c.RAG.KeywordWeight)
	e.Float64("RAG_SEMANTIC_WEIGHT", &c.RAG.SemanticWeight)
	e.Int("RAG_EXACT_SEARCH_LIMIT", &c.RAG.ExactSearchLimit)
	e.Int("RAG_CACHE_TTL", &c.RAG.CacheTTL)
	e.Int("RAG_CACHE_MAX_ENTRIES", &c.RAG.CacheMaxEntries)
	e.String("RAG_EMBEDDING_PROVIDER", &c.RAG.EmbeddingProvider)
	e.String("RAG_EMBEDDING_MODEL", &c.RAG.EmbeddingModel)
	e.Int("RAG_EMBEDDING_DIMS", &c.RAG.EmbeddingDims)
	e.String("RAG_EMBEDDING_BASE_URL", &c.RAG.EmbeddingBaseURL)
	e.String("RAG_EMBEDDING_API_KEY", &c.RAG.EmbeddingAPIKey)
	e.Float64("RAG_EMBEDDING_RPS", &c.RAG.EmbeddingRPS)
	e.Int("RAG_INGEST_WORKERS", &c.RAG.IngestWorkers)
	e.Int("RAG_MAX_FILE_SIZE", &c.RAG.MaxFileSize)
	e.String("RAG_OCR_COMMAND", &c.RAG.OCRCommand)
	e.String("RAG_OCR_LANGUAGES", &c.RAG.OCRLanguages)
	e.Float64("RAG_OCR_MIN_CONFIDENCE", &c.RAG.OCRMinConfidence)
	if v, ok := os.LookupEnv("RAG_STOP_WORDS"); ok {
		c.RAG.StopWords = splitList(v)
	}

	return e.err
}

func (c *AppConfig) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.RAG.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.RAG.EmbeddingProvider))
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "docsearch.document_status"
	}
	// OpenAI-compatible servers need a base URL; default to the public API.
	if c.RAG.EmbeddingProvider == "openai" && c.RAG.EmbeddingBaseURL == "" {
		c.RAG.EmbeddingBaseURL = "https://api.openai.com/v1"
	}
}

func (c *AppConfig) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.RAG.EmbeddingProvider == "openai" && c.RAG.EmbeddingModel == "" {
		return fmt.Errorf("RAG_EMBEDDING_MODEL is required for the openai provider")
	}
	if c.RAG.EmbeddingProvider == "ollama" && c.RAG.EmbeddingModel == "" {
		return fmt.Errorf("RAG_EMBEDDING_MODEL is required for the ollama provider")
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	return nil
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) String(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func (e *envReader) Int(key string, target *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*target = n
}

func (e *envReader) Float64(key string, target *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*target = n
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
