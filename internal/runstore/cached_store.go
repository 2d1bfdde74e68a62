package runstore

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore fronts another Store with an in-memory LRU of records.
type CachedStore struct {
	origin Store
	cache  *lru.Cache[string, Record]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCachedStore(origin Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, cache: cache}, nil
}

// Save writes through to the origin and refreshes the cached record.
func (s *CachedStore) Save(ctx context.Context, rec Record) error {
	if err := s.origin.Save(ctx, rec); err != nil {
		s.cache.Remove(rec.Meta.JobID)
		return err
	}
	s.cache.Add(rec.Meta.JobID, rec)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, jobID string) (Record, error) {
	if rec, ok := s.cache.Get(jobID); ok {
		s.hits.Add(1)
		return rec, nil
	}
	s.misses.Add(1)
	rec, err := s.origin.Get(ctx, jobID)
	if err != nil {
		return Record{}, err
	}
	s.cache.Add(jobID, rec)
	return rec, nil
}

// Delete evicts jobID and removes it from the origin.
func (s *CachedStore) Delete(ctx context.Context, jobID string) error {
	s.cache.Remove(jobID)
	return s.origin.Delete(ctx, jobID)
}

// Stats reports cache hits and misses.
func (s *CachedStore) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}
