package dedup

import (
	"context"
	"sync"
	"time"
)

// WindowIndex is the duplicate detector's shared mutable state: a keyed index
// of recently seen hashes and fingerprints with time-windowed eviction.
// PutIfAbsent must be atomic per key so that two near-simultaneous documents
// about the same event cannot both be classified original.
type WindowIndex interface {
	// PutIfAbsent records docID under key with the given TTL unless the key
	// is already present. It returns the previously stored document id and
	// whether the insert happened.
	PutIfAbsent(ctx context.Context, key, docID string, ttl time.Duration) (existing string, inserted bool, err error)

	// Get returns the document id stored under key, if any. Read-only probes
	// must not extend or create entries.
	Get(ctx context.Context, key string) (docID string, found bool, err error)
}

type memoryEntry struct {
	docID     string
	expiresAt time.Time
}

// MemoryIndex is an in-process WindowIndex used in tests and single-node
// deployments. The clock is injectable so window expiry is testable without
// sleeping.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return NewMemoryIndexWithClock(time.Now)
}

func NewMemoryIndexWithClock(now func() time.Time) *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (m *MemoryIndex) PutIfAbsent(ctx context.Context, key, docID string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.entries[key]; ok && entry.expiresAt.After(now) {
		return entry.docID, false, nil
	}

	m.entries[key] = memoryEntry{docID: docID, expiresAt: now.Add(ttl)}
	m.evictExpiredLocked(now)
	return "", true, nil
}

func (m *MemoryIndex) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && entry.expiresAt.After(m.now()) {
		return entry.docID, true, nil
	}
	return "", false, nil
}

// Len reports live entries, evicting expired ones first.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked(m.now())
	return len(m.entries)
}

func (m *MemoryIndex) evictExpiredLocked(now time.Time) {
	for key, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			delete(m.entries, key)
		}
	}
}
