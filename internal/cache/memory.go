package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxItems bounds the in-memory store
const DefaultMaxItems = 10000

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func (i *memoryItem) expired(now time.Time) bool {
	return now.After(i.expiresAt)
}

// MemoryStore provides thread-safe caching with TTL
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*memoryItem
	ttl      time.Duration
	maxItems int
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store and starts its cleanup goroutine
func NewMemoryStore(ttl time.Duration, maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	s := &MemoryStore{
		items:    make(map[string]*memoryItem),
		ttl:      ttl,
		maxItems: maxItems,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, item := range s.items {
		if item.expired(now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Get retrieves an item from the cache
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || item.expired(s.now()) {
		return nil, false, nil
	}
	return item.data, true, nil
}

// Set stores an item. When full, expired items are dropped first and the
// write is skipped if that frees nothing.
func (s *MemoryStore) Set(_ context.Context, key string, data []byte) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists && len(s.items) >= s.maxItems {
		for k, item := range s.items {
			if item.expired(now) {
				delete(s.items, k)
			}
		}
		if len(s.items) >= s.maxItems {
			return nil
		}
	}

	s.items[key] = &memoryItem{
		data:      append([]byte(nil), data...),
		expiresAt: now.Add(s.ttl),
	}
	return nil
}

// Delete removes an item from the cache
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Clear removes all items from the cache
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]*memoryItem)
	s.mu.Unlock()
	return nil
}

// Size returns the number of stored items, expired ones included
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Stats returns cache statistics
func (s *MemoryStore) Stats(_ context.Context) map[string]any {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := 0
	for _, item := range s.items {
		if item.expired(now) {
			expired++
		}
	}

	return map[string]any{
		"backend":       "memory",
		"total_items":   len(s.items),
		"expired_items": expired,
		"active_items":  len(s.items) - expired,
		"max_items":     s.maxItems,
		"ttl_seconds":   s.ttl.Seconds(),
	}
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
