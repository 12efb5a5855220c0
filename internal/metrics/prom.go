package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exposition mirrors the aggregator's in-memory counters onto
// the process's default registry, following the package-level promauto
// pattern (one var block, Record* helpers) rather than a struct of
// per-instance collectors, since the substrate runs one aggregator per
// process.
var (
	eventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subagent",
		Name:      "events_total",
		Help:      "Total events observed by the realtime metrics aggregator.",
	})

	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent",
		Name:      "tool_invocations_total",
		Help:      "Total tool invocations, by tool and outcome.",
	}, []string{"tool", "success"})

	toolDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subagent",
		Name:      "tool_duration_seconds",
		Help:      "Tool invocation duration in seconds, by tool.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	activeAgentsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subagent",
		Name:      "active_agents",
		Help:      "Number of agents currently invoked and not yet completed or failed.",
	})

	activeTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subagent",
		Name:      "active_tasks",
		Help:      "Number of tasks currently started and not yet completed.",
	})

	tokensTotalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subagent",
		Name:      "tokens_total",
		Help:      "Cumulative tokens reported by completed agent invocations.",
	})

	approvalsPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subagent",
		Name:      "approvals_pending",
		Help:      "Number of approval requests awaiting a decision.",
	})

	busDroppedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subagent",
		Name:      "bus_events_dropped_total",
		Help:      "Cumulative events dropped by the event bus due to backpressure.",
	})
)

// RecordEvent increments the raw event counter. Called once per Observe.
func RecordEvent() {
	eventsTotal.Inc()
}

// RecordToolUsage mirrors one tool.usage event onto the tool-scoped
// counters and duration histogram.
func RecordToolUsage(tool string, success bool, durationMs int64) {
	outcome := "true"
	if !success {
		outcome = "false"
	}
	toolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(float64(durationMs) / 1000.0)
}

// SyncGauges copies the aggregator's current point-in-time state onto the
// gauge metrics. Called on a timer by the server, since gauges (unlike
// counters) have no natural "add one" moment.
func SyncGauges(snap Snapshot) {
	activeAgentsGauge.Set(float64(snap.ActiveAgents))
	activeTasksGauge.Set(float64(snap.ActiveTasks))
	tokensTotalGauge.Set(float64(snap.TokensTotal))
	approvalsPendingGauge.Set(float64(snap.ApprovalsPending))
}

// SyncBusDropped mirrors the bus's cumulative drop count onto the gauge.
// Called periodically by the server, since internal/bus cannot import this
// package without creating an import cycle (this package already depends
// on internal/bus to subscribe).
func SyncBusDropped(cumulative int64) {
	busDroppedTotal.Set(float64(cumulative))
}
