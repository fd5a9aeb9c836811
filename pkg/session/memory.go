package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	meta    Meta
	data    []byte
	expires time.Time
	updated time.Time
}

// MemoryBackend keeps records in process memory. Used for local runs and
// tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty backend. now may be nil.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: now}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) live(e memoryEntry) bool {
	return e.expires.IsZero() || b.now().Before(e.expires)
}

func (b *MemoryBackend) Load(_ context.Context, sessionID string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[sessionID]
	if !ok || !b.live(e) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, sessionID string, meta Meta, data []byte, ttl time.Duration) error {
	now := b.now()
	e := memoryEntry{meta: meta, data: append([]byte(nil), data...), updated: now}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	b.mu.Lock()
	b.entries[sessionID] = e
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, sessionID string) error {
	b.mu.Lock()
	delete(b.entries, sessionID)
	b.mu.Unlock()
	return nil
}

// Scan returns live records, most recently updated first.
func (b *MemoryBackend) Scan(_ context.Context, userID string) ([][]byte, error) {
	b.mu.RLock()
	matched := make([]memoryEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if !b.live(e) || (userID != "" && e.meta.UserID != userID) {
			continue
		}
		matched = append(matched, e)
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].updated.After(matched[j].updated) })
	out := make([][]byte, len(matched))
	for i, e := range matched {
		out[i] = append([]byte(nil), e.data...)
	}
	return out, nil
}

// PurgeExpired drops expired records and returns how many were removed.
func (b *MemoryBackend) PurgeExpired(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for id, e := range b.entries {
		if !b.live(e) {
			delete(b.entries, id)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Close() error { return nil }
