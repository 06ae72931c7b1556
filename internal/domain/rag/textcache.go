package rag

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	applog "docsearch/internal/platform/log"
)

const defaultProbeTimeout = 2 * time.Second

// TextCache keeps extracted text per document with a TTL. Writes go to the
// shared primary backend; when it is unconfigured or fails, the cache marks
// itself degraded and uses the in-process fallback instead. No operation
// fails because the primary is unavailable.
type TextCache struct {
	primary    CacheBackend // nil when not configured
	fallback   CacheBackend
	defaultTTL time.Duration
	degraded   atomic.Bool
}

// NewTextCache creates a cache. primary may be nil; fallback is required.
func NewTextCache(primary, fallback CacheBackend, defaultTTL time.Duration) *TextCache {
	if fallback == nil {
		panic("rag: TextCache needs a fallback backend")
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	c := &TextCache{primary: primary, fallback: fallback, defaultTTL: defaultTTL}
	c.degraded.Store(primary == nil)
	return c
}

// Put stores text for docID. ttl <= 0 uses the default TTL. It only fails
// when the fallback fails too.
func (c *TextCache) Put(ctx context.Context, docID, text string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := DocumentKey(docID)

	if c.usePrimary() {
		err := c.primary.Put(ctx, key, text, ttl)
		if err == nil {
			// Drop any copy written while degraded.
			_ = c.fallback.Delete(ctx, key)
			return nil
		}
		c.markDegraded("put", err)
	}
	return c.fallback.Put(ctx, key, text, ttl)
}

// Get returns the text of docID, or false on a miss.
func (c *TextCache) Get(ctx context.Context, docID string) (string, bool) {
	key := DocumentKey(docID)

	if c.usePrimary() {
		v, err := c.primary.Get(ctx, key)
		switch {
		case err == nil:
			return v, true
		case !errors.Is(err, ErrCacheMiss):
			c.markDegraded("get", err)
		}
	}

	v, err := c.fallback.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return v, true
}

// Evict removes docID from both backends.
func (c *TextCache) Evict(ctx context.Context, docID string) error {
	key := DocumentKey(docID)
	if c.primary != nil {
		if err := c.primary.Delete(ctx, key); err != nil {
			c.markDegraded("delete", err)
		}
	}
	return c.fallback.Delete(ctx, key)
}

// Healthy probes the primary and updates the health state. It is false when
// no primary is configured.
func (c *TextCache) Healthy(ctx context.Context) bool {
	if c.primary == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	if err := c.primary.Ping(ctx); err != nil {
		c.markDegraded("ping", err)
		return false
	}
	if c.degraded.CompareAndSwap(true, false) {
		applog.Info("[RAG/Cache] Primary backend recovered")
	}
	return true
}

// State reports the last known health without probing.
func (c *TextCache) State() CacheBackendState {
	if c.degraded.Load() {
		return CacheDegraded
	}
	return CacheHealthy
}

// Watch re-probes the primary every interval until ctx is done, so a
// recovered backend is picked up again.
func (c *TextCache) Watch(ctx context.Context, interval time.Duration) {
	if c.primary == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Healthy(ctx)
		}
	}
}

func (c *TextCache) usePrimary() bool {
	return c.primary != nil && !c.degraded.Load()
}

func (c *TextCache) markDegraded(op string, err error) {
	if c.degraded.CompareAndSwap(false, true) {
		applog.Warn("[RAG/Cache] Primary backend unavailable, using in-process fallback",
			"op", op,
			"error", err,
		)
	}
}
