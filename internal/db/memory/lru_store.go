// Package memory holds the in-process text cache backend used when no
// shared store is configured or reachable.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

// LRUStore is a bounded map with per-entry TTL. Expired entries are dropped
// lazily on access and by Sweep; when full, the least recently used entry
// is evicted.
type LRUStore struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*list.Element
	lru        *list.List

	now func() time.Time
}

type lruEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

var _ rag.CacheBackend = (*LRUStore)(nil)

// NewLRUStore creates a store holding at most maxEntries values. maxEntries
// <= 0 means unbounded.
func NewLRUStore(maxEntries int) *LRUStore {
	return &LRUStore{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		now:        time.Now,
	}
}

func (s *LRUStore) Put(_ context.Context, key rag.CacheKey, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	if elem, ok := s.items[k]; ok {
		ent := elem.Value.(*lruEntry)
		ent.value = value
		ent.expiresAt = expiresAt
		s.lru.MoveToFront(elem)
		return nil
	}

	s.items[k] = s.lru.PushFront(&lruEntry{key: k, value: value, expiresAt: expiresAt})
	for s.maxEntries > 0 && s.lru.Len() > s.maxEntries {
		oldest := s.lru.Back()
		s.removeElement(oldest)
		applog.Debug("[Cache/Memory] Evicted least recently used entry", "key", oldest.Value.(*lruEntry).key)
	}
	return nil
}

func (s *LRUStore) Get(_ context.Context, key rag.CacheKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key.String()]
	if !ok {
		return "", rag.ErrCacheMiss
	}
	ent := elem.Value.(*lruEntry)
	if s.expired(ent, s.now()) {
		s.removeElement(elem)
		return "", rag.ErrCacheMiss
	}
	s.lru.MoveToFront(elem)
	return ent.value, nil
}

func (s *LRUStore) Delete(_ context.Context, key rag.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key.String()]; ok {
		s.removeElement(elem)
	}
	return nil
}

// Ping always succeeds.
func (s *LRUStore) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, expired ones included until
// they are swept.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Sweep drops every expired entry and returns how many were removed.
func (s *LRUStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if s.expired(elem.Value.(*lruEntry), now) {
			s.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Janitor calls Sweep every interval until ctx is done.
func (s *LRUStore) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				applog.Debug("[Cache/Memory] Swept expired entries", "count", n)
			}
		}
	}
}

func (s *LRUStore) expired(ent *lruEntry, now time.Time) bool {
	return !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)
}

func (s *LRUStore) removeElement(elem *list.Element) {
	s.lru.Remove(elem)
	delete(s.items, elem.Value.(*lruEntry).key)
}
