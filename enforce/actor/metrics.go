package actor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_actor_cache_hits",
	Help: "Number of actor lookups served from cache",
})

var actorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_actor_cache_misses",
	Help: "Number of actor lookups that went to the directory",
})
