package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps all buckets in process memory. It is the default store
// for a single agent instance.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, version, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.buckets[version]
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := bucket[key]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, version, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[version]
	if !ok {
		bucket = make(map[string]Entry)
		s.buckets[version] = bucket
	}
	bucket[key] = e
	return nil
}

func (s *MemoryStore) Versions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.buckets))
	for v := range s.buckets {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *MemoryStore) DeleteVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, version)
	return nil
}
