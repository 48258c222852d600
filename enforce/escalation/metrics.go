package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var violationsWarned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_escalation_warnings",
	Help: "Number of violations that produced a warning",
})

var suppressionsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_escalation_suppressions",
	Help: "Number of suppression windows started",
})
