package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRetries = 50

// Stores JSON-encoded values, one redis key per state key. Updates use WATCH/MULTI optimistic transactions.
type RedisStore[T any] struct {
	Client *redis.Client
	Prefix string
	// Expiry applied on every write. Zero means no expiry.
	TTL        time.Duration
	MaxRetries int
}

func NewRedisStore[T any](rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore[T] {
	return &RedisStore[T]{
		Client:     rdb,
		Prefix:     "hifumi/" + prefix + "/",
		TTL:        ttl,
		MaxRetries: defaultRedisRetries,
	}
}

func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var v T
	raw, err := s.Client.Get(ctx, s.Prefix+key).Bytes()
	if err == redis.Nil {
		return v, false, nil
	} else if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decoding state %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore[T]) Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error) {
	k := s.Prefix + key
	var out T
	txf := func(tx *redis.Tx) error {
		var cur T
		exists := false
		raw, err := tx.Get(ctx, k).Bytes()
		if err == nil {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decoding state %s: %w", key, err)
			}
			exists = true
		} else if err != redis.Nil {
			return err
		}

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, s.TTL)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultRedisRetries
	}
	for i := 0; i < retries; i++ {
		err := s.Client.Watch(ctx, txf, k)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var zero T
		return zero, err
	}
	var zero T
	return zero, fmt.Errorf("%w: %s", ErrContention, key)
}
