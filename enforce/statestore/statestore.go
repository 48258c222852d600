package statestore

import (
	"context"
	"errors"
)

type Store[T any] interface {
	// Returns the current value, and whether the key exists.
	Get(ctx context.Context, key string) (T, bool, error)
	// Atomically replaces the value for key with fn(current). If fn returns an error nothing is written and the error is returned.
	//
	// fn may be called more than once (eg, on optimistic-lock retry) and should not have side effects.
	Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error)
}

// Returned when an optimistic update could not commit within the retry budget.
var ErrContention = errors.New("state update lost too many races")
