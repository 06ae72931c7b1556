package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memBackend is a map CacheBackend with TTLs and a settable clock.
type memBackend struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[string]memEntry), now: time.Now}
}

func (b *memBackend) Put(_ context.Context, key CacheKey, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key.String()] = memEntry{value: value, expires: b.now().Add(ttl)}
	return nil
}

func (b *memBackend) Get(_ context.Context, key CacheKey) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key.String()]
	if !ok || !b.now().Before(e.expires) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (b *memBackend) Delete(_ context.Context, key CacheKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key.String())
	return nil
}

func (b *memBackend) Ping(context.Context) error { return nil }

func (b *memBackend) has(docID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[DocumentKey(docID).String()]
	return ok
}

// downBackend fails every call, like an unreachable Redis.
type downBackend struct {
	mu    sync.Mutex
	down  bool
	inner *memBackend
}

func newDownBackend() *downBackend {
	return &downBackend{down: true, inner: newMemBackend()}
}

func (b *downBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *downBackend) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return fmt.Errorf("dial tcp 127.0.0.1:6379: %w", ErrBackendUnavailable)
	}
	return nil
}

func (b *downBackend) Put(ctx context.Context, key CacheKey, value string, ttl time.Duration) error {
	if err := b.err(); err != nil {
		return err
	}
	return b.inner.Put(ctx, key, value, ttl)
}

func (b *downBackend) Get(ctx context.Context, key CacheKey) (string, error) {
	if err := b.err(); err != nil {
		return "", err
	}
	return b.inner.Get(ctx, key)
}

func (b *downBackend) Delete(ctx context.Context, key CacheKey) error {
	if err := b.err(); err != nil {
		return err
	}
	return b.inner.Delete(ctx, key)
}

func (b *downBackend) Ping(context.Context) error { return b.err() }

// fakeOCR returns a fixed recognition result.
type fakeOCR struct {
	res *OCRResult
	err error
}

func (f *fakeOCR) Recognize(context.Context, []byte) (*OCRResult, error) {
	return f.res, f.err
}

// para pads s to exactly 38 runes so that, with 40-rune chunks and no
// overlap, every paragraph plus its blank line is one chunk.
func para(s string) string {
	if len(s) > 38 {
		panic("paragraph too long: " + s)
	}
	return s + strings.Repeat("x", 38-len(s))
}

func paragraphs(ps ...string) string {
	return strings.Join(ps, "\n\n")
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 40
	cfg.ChunkOverlap = 0
	cfg.EmbeddingDims = 64
	return cfg
}

func newTestEngine(t *testing.T, cfg *Config, primary CacheBackend, embedder Embedder, sinks ...StatusSink) (*Engine, *memBackend) {
	t.Helper()
	fallback := newMemBackend()
	cache := NewTextCache(primary, fallback, time.Hour)
	eng, err := NewEngine(cfg, EngineDeps{Cache: cache, Embedder: embedder, Sinks: sinks})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
	})
	return eng, fallback
}

// recordingSink keeps every status event.
type recordingSink struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (s *recordingSink) RecordStatus(_ context.Context, ev StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) statuses(docID string) []DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DocumentStatus
	for _, ev := range s.events {
		if ev.DocumentID == docID {
			out = append(out, ev.Status)
		}
	}
	return out
}
