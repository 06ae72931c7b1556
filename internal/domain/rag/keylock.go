package rag

import (
	"context"
	"sync"
)

// docLocks serializes work on one document id while letting different ids
// proceed in parallel. Entries are reference counted and dropped when the
// last holder releases.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

// Acquire blocks until docID is free or ctx is done. The returned release
// func must be called exactly once on success.
func (l *docLocks) Acquire(ctx context.Context, docID string) (release func(), err error) {
	l.mu.Lock()
	dl := l.locks[docID]
	if dl == nil {
		dl = &docLock{ch: make(chan struct{}, 1)}
		l.locks[docID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
		return func() {
			<-dl.ch
			l.unref(docID, dl)
		}, nil
	case <-ctx.Done():
		l.unref(docID, dl)
		return nil, ctx.Err()
	}
}

func (l *docLocks) unref(docID string, dl *docLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, docID)
	}
}
