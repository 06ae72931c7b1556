package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain/rag"
)

var envKeys = []string{
	"APP_CONFIG_FILE", "LOG_LEVEL", "LOG_FORMAT", "HOST", "PORT",
	"DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "AMQP_URL", "AMQP_QUEUE",
	"RAG_CHUNK_SIZE", "RAG_CHUNK_OVERLAP", "RAG_DEFAULT_TOP_K", "RAG_CACHE_TTL",
	"RAG_EMBEDDING_PROVIDER", "RAG_EMBEDDING_MODEL", "RAG_EMBEDDING_DIMS",
	"RAG_EMBEDDING_BASE_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("RAG_STOP_WORDS", "")
	require.NoError(t, os.Unsetenv("RAG_STOP_WORDS"))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Redis.URL, "redis is optional")
	assert.Equal(t, "docsearch.document_status", cfg.AMQP.Queue)
	assert.Equal(t, *rag.DefaultConfig(), cfg.RAG)
}

func TestLoadTOMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "docsearch.toml", `
log_level = "debug"

[server]
port = 9090

[redis]
url = "redis://localhost:6379/2"

[rag]
chunk_size = 256
chunk_overlap = 0.2
default_top_k = 3
stop_words = ["foo", "bar"]
`)
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("RAG_DEFAULT_TOP_K", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Redis.URL)
	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.InDelta(t, 0.2, cfg.RAG.ChunkOverlap, 1e-12)
	assert.Equal(t, 7, cfg.RAG.DefaultTopK, "environment wins over the file")
	assert.Equal(t, []string{"foo", "bar"}, cfg.RAG.StopWords)
	assert.Equal(t, 86400, cfg.RAG.CacheTTL, "unset keys keep defaults")
}

func TestLoadJSONFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "docsearch.json", `{"sqlite": {"path": "/tmp/docs.db"}, "rag": {"ingest_workers": 2}}`)
	t.Setenv("APP_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/docs.db", cfg.SQLite.Path)
	assert.Equal(t, 2, cfg.RAG.IngestWorkers)
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("RAG_CHUNK_OVERLAP", "0.25")
	t.Setenv("RAG_STOP_WORDS", "a, b,,c ")
	t.Setenv("RAG_EMBEDDING_PROVIDER", "OpenAI")
	t.Setenv("RAG_EMBEDDING_MODEL", "text-embedding-3-small")
	t.Setenv("RAG_EMBEDDING_DIMS", "1536")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.InDelta(t, 0.25, cfg.RAG.ChunkOverlap, 1e-12)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.RAG.StopWords)
	assert.Equal(t, "openai", cfg.RAG.EmbeddingProvider)
	assert.Equal(t, "https://api.openai.com/v1", cfg.RAG.EmbeddingBaseURL)
	assert.Equal(t, 1536, cfg.RAG.EmbeddingDims)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"malformed int", map[string]string{"RAG_CHUNK_SIZE": "abc"}},
		{"malformed float", map[string]string{"RAG_CHUNK_OVERLAP": "lots"}},
		{"overlap out of range", map[string]string{"RAG_CHUNK_OVERLAP": "1.5"}},
		{"bad port", map[string]string{"PORT": "70000"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"unknown provider", map[string]string{"RAG_EMBEDDING_PROVIDER": "magic"}},
		{"openai without model", map[string]string{"RAG_EMBEDDING_PROVIDER": "openai"}},
		{"missing file", map[string]string{"APP_CONFIG_FILE": "/does/not/exist.toml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_CONFIG_FILE", writeFile(t, "docsearch.yaml", "port: 1"))
	_, err := Load()
	assert.ErrorContains(t, err, "unsupported extension")
}
