// Package store provides a process-local TTL cache.
//
// Two derived, loss-tolerant caches live here: per-host robots.txt decisions
// (the fetcher re-resolves on miss) and the /stats response body (the stats
// aggregate recomputes on miss). Authoritative state always lives in SQLite;
// losing an entry costs one recomputation, never correctness.
//
// Currently only MemoryStore is implemented. For multi-instance deployments,
// implement Store interface with Redis or similar.
package store

import (
	"sync"
	"time"
)

// DefaultTTL applies when Set is called without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// Store defines the interface for the TTL cache.
type Store interface {
	// Set stores a value under the default TTL.
	Set(key string, value any) error

	// SetWithTTL stores a value with an explicit TTL.
	SetWithTTL(key string, value any, ttl time.Duration) error

	// Get retrieves a value by key.
	Get(key string) (any, bool)

	// Delete removes a value by key.
	Delete(key string) error

	// Close cleans up resources.
	Close() error
}

// MemoryStore is a simple in-memory implementation of Store.
type MemoryStore struct {
	data     map[string]entry
	mu       sync.RWMutex
	ttl      time.Duration
	stopChan chan struct{}
	stopped  bool
}

type entry struct {
	value     any
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store with the given default TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		data:     make(map[string]entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Set stores a value under the default TTL.
func (s *MemoryStore) Set(key string, value any) error {
	return s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (s *MemoryStore) SetWithTTL(key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.data[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get retrieves a value if it exists and hasn't expired.
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		return nil, false
	}

	return e.value, true
}

// Delete removes a value.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.data = nil
	}
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.stopped {
				now := time.Now()
				for key, e := range s.data {
					if now.After(e.expiresAt) {
						delete(s.data, key)
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
