package statestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type counter struct {
	N    int      `json:"n"`
	Tags []string `json:"tags,omitempty"`
}

func incr(cur counter, exists bool) (counter, error) {
	cur.N++
	return cur, nil
}

func testStoreBasics(t *testing.T, s Store[counter]) {
	assert := assert.New(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "a")
	assert.NoError(err)
	assert.False(ok)

	v, err := s.Update(ctx, "a", func(cur counter, exists bool) (counter, error) {
		assert.False(exists)
		cur.N = 5
		cur.Tags = []string{"x"}
		return cur, nil
	})
	assert.NoError(err)
	assert.Equal(5, v.N)

	v, err = s.Update(ctx, "a", incr)
	assert.NoError(err)
	assert.Equal(6, v.N)

	got, ok, err := s.Get(ctx, "a")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(counter{N: 6, Tags: []string{"x"}}, got)

	// failed update writes nothing, for existing and new keys
	boom := errors.New("boom")
	_, err = s.Update(ctx, "a", func(cur counter, exists bool) (counter, error) {
		return counter{N: 100}, boom
	})
	assert.ErrorIs(err, boom)
	got, _, err = s.Get(ctx, "a")
	assert.NoError(err)
	assert.Equal(6, got.N)

	_, err = s.Update(ctx, "b", func(cur counter, exists bool) (counter, error) {
		return counter{N: 100}, boom
	})
	assert.ErrorIs(err, boom)
	_, ok, err = s.Get(ctx, "b")
	assert.NoError(err)
	assert.False(ok)
}

func testStoreConcurrent(t *testing.T, s Store[counter], workers, times int) {
	assert := assert.New(t)
	ctx := context.Background()

	// Increment two keys from several goroutines; run this with `-race`!
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		for _, key := range []string{"one", "two"} {
			go func(key string) {
				defer wg.Done()
				for j := 0; j < times; j++ {
					_, err := s.Update(ctx, key, incr)
					assert.NoError(err)
				}
			}(key)
		}
	}
	wg.Wait()

	for _, key := range []string{"one", "two"} {
		v, ok, err := s.Get(ctx, key)
		assert.NoError(err)
		assert.True(ok)
		assert.Equal(workers*times, v.N)
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore[counter]()
	testStoreBasics(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestMemStoreConcurrent(t *testing.T) {
	testStoreConcurrent(t, NewMemStore[counter](), 8, 200)
}

func newRedisStore(t *testing.T) *RedisStore[counter] {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore[counter](rdb, "test", 0)
}

func TestRedisStore(t *testing.T) {
	testStoreBasics(t, newRedisStore(t))
}

func TestRedisStoreConcurrent(t *testing.T) {
	s := newRedisStore(t)
	s.MaxRetries = 10_000
	testStoreConcurrent(t, s, 4, 20)
}
