package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hifumi-dev/hifumi/enforce/cachestore"
)

const cacheName = "actor"

// Caches lookups by ID in a CacheStore. Member enumeration always goes to the inner directory, because resolution must see current names.
type CacheDirectory struct {
	Inner Directory
	Cache cachestore.CacheStore
}

var _ Directory = (*CacheDirectory)(nil)

func NewCacheDirectory(inner Directory, cache cachestore.CacheStore) CacheDirectory {
	return CacheDirectory{
		Inner: inner,
		Cache: cache,
	}
}

func (d *CacheDirectory) LookupID(ctx context.Context, id string) (*Actor, error) {
	raw, found, err := d.Cache.Get(ctx, cacheName, id)
	if err != nil {
		return nil, fmt.Errorf("reading actor cache: %w", err)
	}
	if found {
		var a Actor
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			actorCacheHits.Inc()
			return &a, nil
		}
		// fall through and overwrite a corrupt entry
	}
	actorCacheMisses.Inc()

	a, err := d.Inner.LookupID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrActorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up actor: %w", err)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if err := d.Cache.Set(ctx, cacheName, id, string(b)); err != nil {
		return nil, fmt.Errorf("writing actor cache: %w", err)
	}
	return a, nil
}

func (d *CacheDirectory) Members(ctx context.Context) ([]Actor, error) {
	return d.Inner.Members(ctx)
}

// Flushes any cached entry for the ID, eg after the platform reports a rename.
func (d *CacheDirectory) Purge(ctx context.Context, id string) error {
	return d.Cache.Purge(ctx, cacheName, id)
}
