package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cadforge/api/internal/model"
)

type memoryEntry struct {
	bundle    *model.ComponentBundle
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when Redis is not configured,
// and by tests. Same write-once and TTL semantics as RedisStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*model.ComponentBundle, error) {
	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, fingerprint)
		s.mu.Unlock()
		return nil, nil
	}
	return entry.bundle, nil
}

func (s *MemoryStore) Put(_ context.Context, fingerprint string, bundle *model.ComponentBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[fingerprint]; ok {
		if existing.expiresAt.IsZero() || time.Now().Before(existing.expiresAt) {
			return nil // first writer wins
		}
	}

	var expires time.Time
	if s.ttl > 0 {
		expires = time.Now().Add(s.ttl)
	}
	s.entries[fingerprint] = memoryEntry{bundle: bundle, expiresAt: expires}
	return nil
}

// Len reports the number of live entries. Used by the health endpoint.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
