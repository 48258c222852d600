package throttle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_throttle_tokens_consumed",
	Help: "Number of tokens taken from actor buckets",
}, []string{"capability"})

var requestsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_throttle_denied",
	Help: "Number of requests denied because the actor's bucket was empty",
}, []string{"capability"})
