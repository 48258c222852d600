// TTL cache of string values (usually JSON), namespaced by name, with explicit purging.
//
// MemCacheStore keeps entries in an expirable LRU inside the process. RedisCacheStore shares them through redis, with a small local TinyLFU in front.
//
// The actor CacheDirectory uses this to skip a platform round-trip for repeat lookups by ID.
package cachestore
