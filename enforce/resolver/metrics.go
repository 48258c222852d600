package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_resolutions",
	Help: "Number of actor resolutions, by method or failure",
}, []string{"result"})
