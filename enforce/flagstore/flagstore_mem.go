package flagstore

import (
	"context"
	"sort"
	"sync"
)

type MemFlagStore struct {
	mu   sync.Mutex
	Data map[string][]string
}

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		Data: make(map[string][]string),
	}
}

func (s *MemFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemFlagStore) Add(ctx context.Context, key string, flags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := append(s.Data[key], flags...)
	v = dedupeStrings(v)
	sort.Strings(v)
	s.Data[key] = v
	return nil
}

// does not error if flags not in set
func (s *MemFlagStore) Remove(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(flags))
	for _, f := range flags {
		drop[f] = true
	}
	out := []string{}
	for _, f := range s.Data[key] {
		if !drop[f] {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		delete(s.Data, key)
		return nil
	}
	s.Data[key] = out
	return nil
}
