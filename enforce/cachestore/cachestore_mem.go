package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// In-process cache. Entries expire after the TTL, and the least recently used are evicted past capacity.
type MemCacheStore struct {
	lru *expirable.LRU[string, string]
}

var _ CacheStore = (*MemCacheStore)(nil)

func NewMemCacheStore(capacity int, ttl time.Duration) *MemCacheStore {
	return &MemCacheStore{
		lru: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemCacheStore) Get(ctx context.Context, name, key string) (string, bool, error) {
	v, ok := s.lru.Get(cacheKey(name, key))
	return v, ok, nil
}

func (s *MemCacheStore) Set(ctx context.Context, name, key string, val string) error {
	s.lru.Add(cacheKey(name, key), val)
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, name, key string) error {
	s.lru.Remove(cacheKey(name, key))
	return nil
}

// Number of live entries, across all names.
func (s *MemCacheStore) Len() int {
	return s.lru.Len()
}
