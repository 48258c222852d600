package statestore

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

type MemStore[T any] struct {
	data *xsync.MapOf[string, T]
}

func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{
		data: xsync.NewMapOf[string, T](),
	}
}

func (s *MemStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	v, ok := s.data.Load(key)
	return v, ok, nil
}

func (s *MemStore[T]) Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error) {
	var fnErr error
	v, _ := s.data.Compute(key, func(old T, loaded bool) (T, bool) {
		next, err := fn(old, loaded)
		if err != nil {
			fnErr = err
			// leave things as they were; drop the placeholder if the key was new
			return old, !loaded
		}
		return next, false
	})
	if fnErr != nil {
		var zero T
		return zero, fnErr
	}
	return v, nil
}

// Number of keys currently held.
func (s *MemStore[T]) Len() int {
	return s.data.Size()
}
