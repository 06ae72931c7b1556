package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("REDIS_URL", "")

	// Flags are package-level; reset them between runs.
	extractKind, extractJSON = "", false
	queryDir, queryMode, queryTopK, queryJSON = ".", "hybrid", 0, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtract_TextFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "Hello   extraction\r\nworld")

	out, err := executeCommand(t, "extract", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "world")
}

func TestExtract_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.md", "# Title\n\nsome markdown body")

	out, err := executeCommand(t, "extract", "--json", path)
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, path, got.File)
	assert.Equal(t, "markdown", string(got.Kind))
	assert.Contains(t, got.Text, "markdown body")
}

func TestExtract_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := executeCommand(t, "extract", filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	path := writeFile(t, dir, "data.bin", "plain words")
	_, err = executeCommand(t, "extract", "--kind", "application/x-unknown", path)
	assert.Error(t, err, "an explicit unknown kind is not sniffed")
}

func TestQuery_RanksMatchingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cats.txt", "Cats are small carnivorous mammals that purr and sleep most of the day.")
	writeFile(t, dir, "rockets.md", "Rockets burn propellant to produce thrust and reach orbit.")
	writeFile(t, dir, "ignored.bin", "binary")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	writeFile(t, filepath.Join(dir, ".hidden"), "secret.txt", "rockets rockets rockets")

	out, err := executeCommand(t, "query", "--dir", dir, "--mode", "keyword", "--json", "rockets thrust")
	require.NoError(t, err)

	var got struct {
		Mode    string     `json:"mode"`
		Results []queryHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "keyword", got.Mode)
	require.NotEmpty(t, got.Results)
	assert.Equal(t, "rockets.md", got.Results[0].File)
	for _, h := range got.Results {
		assert.NotEqual(t, filepath.Join(".hidden", "secret.txt"), h.File)
	}
}

func TestQuery_TextOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "the quick brown fox jumps over the lazy dog")

	out, err := executeCommand(t, "query", "--dir", dir, "--top-k", "1", "fox")
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "fox")
}

func TestQuery_EmptyDir(t *testing.T) {
	_, err := executeCommand(t, "query", "--dir", t.TempDir(), "anything")
	assert.Error(t, err)
}
