package dailylimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// Counters for past days are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
}

type memCounter struct {
	count    int
	expireAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memCounter)}
}

func (s *MemoryStore) Get(ctx context.Context, key, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key+"|"+day]
	if !ok {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key, day string, expireAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired(expireAt)

	k := key + "|" + day
	c, ok := s.counters[k]
	if !ok {
		c = &memCounter{expireAt: expireAt}
		s.counters[k] = c
	}
	c.count++
	return c.count, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key+"|"+day)
	return nil
}

// evictExpired drops counters whose expiry is not after the reference time.
// Called with the lock held.
func (s *MemoryStore) evictExpired(ref time.Time) {
	for k, c := range s.counters {
		if !c.expireAt.After(ref.Add(-24 * time.Hour)) {
			delete(s.counters, k)
		}
	}
}
