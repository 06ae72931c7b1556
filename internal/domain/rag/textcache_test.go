package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	primary, fallback := newMemBackend(), newMemBackend()
	c := NewTextCache(primary, fallback, time.Hour)

	require.NoError(t, c.Put(ctx, "d1", "hello", 0))
	got, ok := c.Get(ctx, "d1")
	require.True(t, ok)
	assert.Equal(t, "hello", got)
	assert.True(t, primary.has("d1"))
	assert.False(t, fallback.has("d1"))
	assert.Equal(t, CacheHealthy, c.State())

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, CacheHealthy, c.State(), "a miss is not a failure")
}

func TestTextCacheTTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := newMemBackend()
	primary.now = func() time.Time { return clock }
	c := NewTextCache(primary, newMemBackend(), 10*time.Minute)

	require.NoError(t, c.Put(ctx, "short", "a", time.Minute))
	require.NoError(t, c.Put(ctx, "default", "b", 0))

	clock = clock.Add(2 * time.Minute)
	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "default")
	assert.True(t, ok)

	clock = clock.Add(10 * time.Minute)
	_, ok = c.Get(ctx, "default")
	assert.False(t, ok)
}

func TestTextCacheEvict(t *testing.T) {
	ctx := context.Background()
	primary, fallback := newMemBackend(), newMemBackend()
	c := NewTextCache(primary, fallback, time.Hour)

	require.NoError(t, c.Put(ctx, "d1", "hello", 0))
	require.NoError(t, fallback.Put(ctx, DocumentKey("d1"), "stale", time.Hour))
	require.NoError(t, c.Evict(ctx, "d1"))

	assert.False(t, primary.has("d1"))
	assert.False(t, fallback.has("d1"))
	_, ok := c.Get(ctx, "d1")
	assert.False(t, ok)
}

func TestTextCacheDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary, fallback := newDownBackend(), newMemBackend()
	c := NewTextCache(primary, fallback, time.Hour)

	require.NoError(t, c.Put(ctx, "d1", "while down", 0), "a down primary must not fail writes")
	assert.Equal(t, CacheDegraded, c.State())
	assert.True(t, fallback.has("d1"))

	got, ok := c.Get(ctx, "d1")
	require.True(t, ok)
	assert.Equal(t, "while down", got)
	assert.False(t, c.Healthy(ctx))

	primary.setDown(false)
	assert.True(t, c.Healthy(ctx))
	assert.Equal(t, CacheHealthy, c.State())

	// Text written while degraded is still readable through the fallback.
	got, ok = c.Get(ctx, "d1")
	require.True(t, ok)
	assert.Equal(t, "while down", got)

	// A fresh write lands in the primary and drops the fallback copy.
	require.NoError(t, c.Put(ctx, "d1", "after recovery", 0))
	assert.True(t, primary.inner.has("d1"))
	assert.False(t, fallback.has("d1"))
}

func TestTextCacheWithoutPrimary(t *testing.T) {
	ctx := context.Background()
	fallback := newMemBackend()
	c := NewTextCache(nil, fallback, 0)

	assert.Equal(t, CacheDegraded, c.State())
	assert.False(t, c.Healthy(ctx))

	require.NoError(t, c.Put(ctx, "d1", "local", 0))
	got, ok := c.Get(ctx, "d1")
	require.True(t, ok)
	assert.Equal(t, "local", got)
	require.NoError(t, c.Evict(ctx, "d1"))
	assert.False(t, fallback.has("d1"))
}

func TestTextCacheWatchPicksUpRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	primary := newDownBackend()
	c := NewTextCache(primary, newMemBackend(), time.Hour)
	require.NoError(t, c.Put(ctx, "d1", "x", 0))
	require.Equal(t, CacheDegraded, c.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Watch(ctx, 5*time.Millisecond)
	}()

	primary.setDown(false)
	assert.Eventually(t, func() bool { return c.State() == CacheHealthy }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestNewTextCacheRequiresFallback(t *testing.T) {
	assert.Panics(t, func() { NewTextCache(newMemBackend(), nil, time.Hour) })
}
