package store

import (
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EvictFunc observes sessions leaving the store by removal, expiry or
// capacity pressure. It runs with the store's internal lock held and must not
// call back into the store or block.
type EvictFunc func(s *domain.Session)

// MemoryStore is a bounded SessionStore whose entries expire after a TTL.
type MemoryStore struct {
	cache *expirable.LRU[string, *domain.Session]
}

// NewMemoryStore creates a store holding at most size sessions for ttl each.
func NewMemoryStore(size int, ttl time.Duration, onEvict EvictFunc) *MemoryStore {
	var cb expirable.EvictCallback[string, *domain.Session]
	if onEvict != nil {
		cb = func(_ string, s *domain.Session) { onEvict(s) }
	}
	return &MemoryStore{cache: expirable.NewLRU[string, *domain.Session](size, cb, ttl)}
}

// Get implements SessionStore.
func (m *MemoryStore) Get(id string) (*domain.Session, bool) {
	return m.cache.Get(id)
}

// Put implements SessionStore.
func (m *MemoryStore) Put(s *domain.Session) {
	m.cache.Add(s.ID, s)
}

// Remove implements SessionStore.
func (m *MemoryStore) Remove(id string) bool {
	return m.cache.Remove(id)
}

// Len implements SessionStore.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}
