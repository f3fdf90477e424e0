package domain

import "sync"

// LeadLocker serializes lifecycle mutations at (tenant, lead) granularity.
// A manual transition racing a scheduler sweep on the same lead must not
// interleave; no cross-lead locking is needed.
type LeadLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLeadLocker creates an empty locker.
func NewLeadLocker() *LeadLocker {
	return &LeadLocker{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for the key and returns its unlock function.
// Entries are reference counted so the map does not grow without bound.
func (l *LeadLocker) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
