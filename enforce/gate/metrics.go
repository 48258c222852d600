package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verdictCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_gate_verdicts",
	Help: "Number of gate checks, by capability and verdict",
}, []string{"capability", "verdict"})
