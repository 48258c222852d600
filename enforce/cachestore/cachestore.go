package cachestore

import (
	"context"
)

// String values keyed by (name, key), where name is a namespace such as "actor".
type CacheStore interface {
	// found is false, with a nil error, on a miss or an expired entry.
	Get(ctx context.Context, name, key string) (val string, found bool, err error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

func cacheKey(name, key string) string {
	return name + "/" + key
}
