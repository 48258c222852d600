package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testCacheStore(t *testing.T, cs CacheStore) {
	assert := assert.New(t)
	ctx := context.Background()

	_, found, err := cs.Get(ctx, "actor", "111")
	assert.NoError(err)
	assert.False(found)

	assert.NoError(cs.Set(ctx, "actor", "111", `{"id":"111"}`))
	v, found, err := cs.Get(ctx, "actor", "111")
	assert.NoError(err)
	assert.True(found)
	assert.Equal(`{"id":"111"}`, v)

	// different namespace, same key
	_, found, err = cs.Get(ctx, "other", "111")
	assert.NoError(err)
	assert.False(found)

	// an empty value is still a hit
	assert.NoError(cs.Set(ctx, "actor", "333", ""))
	v, found, err = cs.Get(ctx, "actor", "333")
	assert.NoError(err)
	assert.True(found)
	assert.Empty(v)

	assert.NoError(cs.Purge(ctx, "actor", "111"))
	_, found, err = cs.Get(ctx, "actor", "111")
	assert.NoError(err)
	assert.False(found)

	// purging a missing key is fine
	assert.NoError(cs.Purge(ctx, "actor", "222"))
}

func TestMemCacheStore(t *testing.T) {
	testCacheStore(t, NewMemCacheStore(10, time.Hour))
}

func TestMemCacheStoreEviction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cs := NewMemCacheStore(2, time.Hour)

	assert.NoError(cs.Set(ctx, "actor", "1", "a"))
	assert.NoError(cs.Set(ctx, "actor", "2", "b"))
	assert.NoError(cs.Set(ctx, "actor", "3", "c"))
	assert.Equal(2, cs.Len())

	_, found, _ := cs.Get(ctx, "actor", "1")
	assert.False(found)
	_, found, _ = cs.Get(ctx, "actor", "3")
	assert.True(found)
}

func TestRedisCacheStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	testCacheStore(t, NewRedisCacheStore(rdb, time.Hour))
}
