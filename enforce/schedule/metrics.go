package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_schedule_actions_scheduled",
	Help: "Number of actions scheduled, by kind",
}, []string{"kind"})

var actionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_schedule_actions_cancelled",
	Help: "Number of pending actions cancelled before firing",
})

var actionsFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_schedule_actions_fired",
	Help: "Number of executor invocations, by kind and result",
}, []string{"kind", "result"})

var actionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hifumi_schedule_actions_abandoned",
	Help: "Number of actions marked executed after exhausting retries",
})

var persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hifumi_schedule_persist_failures",
	Help: "Number of store writes that failed after retries, by operation",
}, []string{"op"})

var actionLag = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "hifumi_schedule_action_lag_seconds",
	Help:    "Delay between an action's due time and its successful execution",
	Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
})

var armedActions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "hifumi_schedule_armed_actions",
	Help: "Number of pending actions armed in the timing loop",
})

var memoryOnlyActions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "hifumi_schedule_memory_only_actions",
	Help: "Number of armed actions that could not be persisted (degraded mode when non-zero)",
})
