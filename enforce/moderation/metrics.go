package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mutes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_moderation_mutes",
	Help: "Number of mute requests, by result",
}, []string{"result"})

var reversals = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_moderation_unmutes_executed",
	Help: "Number of scheduled unmutes executed",
})
