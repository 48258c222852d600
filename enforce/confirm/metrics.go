package confirm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_confirm_sessions",
	Help: "Number of confirmation sessions settled, by outcome",
}, []string{"outcome"})
