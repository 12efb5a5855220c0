// Package metrics implements the realtime metrics aggregator (SPEC_FULL.md /
// spec.md component 4.6): a bus subscriber that folds the live event stream
// into sliding-window counters, exposes them over Prometheus, and streams
// them to connected dashboards over a websocket.
package metrics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

// secondBuckets is how many one-second buckets the events/sec ring keeps;
// 300 covers the largest supported window (5 minutes).
const secondBuckets = 300

var rateWindows = map[string]int{
	"1s":  1,
	"10s": 10,
	"60s": 60,
	"5m":  300,
}

// ToolStats summarizes one tool's invocation volume and latency profile.
type ToolStats struct {
	Count      int64   `json:"count"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	P99Ms      float64 `json:"p99_ms"`
	FailureCnt int64   `json:"failure_count"`
}

// Snapshot is the aggregator's point-in-time view, serialized to both the
// websocket surface and ad-hoc JSON callers.
type Snapshot struct {
	Timestamp        time.Time            `json:"timestamp"`
	EventsPerSec      map[string]float64   `json:"events_per_sec"`
	ActiveAgents      int                  `json:"active_agents"`
	ActiveWorkflows   int                  `json:"active_workflows"`
	ActiveTasks       int                  `json:"active_tasks"`
	Tools             map[string]ToolStats `json:"tools"`
	TokensTotal       int64                `json:"tokens_total"`
	TestsPassed       int64                `json:"tests_passed"`
	TestsFailed       int64                `json:"tests_failed"`
	AvgTaskProgress   float64              `json:"avg_task_progress_pct"`
	ApprovalsPending  int                  `json:"approvals_pending"`
}

// Aggregator folds the live event stream into sliding-window counters. One
// Aggregator instance is shared by the whole process; construct with New
// and feed it via Subscribe (bus) or Observe (direct call, e.g. from the
// log-tail ingestion path).
type Aggregator struct {
	clk clock.Clock

	mu           sync.Mutex
	buckets      [secondBuckets]int64
	bucketEpoch  int64 // unix-second timestamp the ring's head bucket represents

	activeAgents    map[string]struct{}
	activeWorkflows map[string]struct{}
	activeTasks     map[string]struct{}
	taskProgress    map[string]float64

	toolCounts    map[string]int64
	toolFailures  map[string]int64
	toolDurations map[string]*reservoir

	tokensTotal      int64
	testsPassed      int64
	testsFailed      int64
	approvalsPending int
}

// New creates an Aggregator. clk is injectable for deterministic tests.
func New(clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Aggregator{
		clk:             clk,
		bucketEpoch:     clk.Now().Unix(),
		activeAgents:    map[string]struct{}{},
		activeWorkflows: map[string]struct{}{},
		activeTasks:     map[string]struct{}{},
		taskProgress:    map[string]float64{},
		toolCounts:      map[string]int64{},
		toolFailures:    map[string]int64{},
		toolDurations:   map[string]*reservoir{},
	}
}

// Subscribe wires the aggregator to a bus as a wildcard subscriber.
func (a *Aggregator) Subscribe(b *bus.Bus) bus.Unsubscribe {
	return b.Subscribe(bus.WildcardTopic, func(ev schema.Event) error {
		a.Observe(ev)
		return nil
	})
}

// Observe folds one event into the aggregator's running state. Safe for
// concurrent use.
func (a *Aggregator) Observe(ev schema.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.advanceBuckets(ev.Timestamp)
	a.buckets[0]++
	RecordEvent()

	switch ev.EventType {
	case schema.EventAgentInvoked:
		var p schema.AgentInvokedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.activeAgents[agentKeyFor(ev.SessionID, p.Agent)] = struct{}{}
		}
	case schema.EventAgentCompleted:
		var p schema.AgentCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(a.activeAgents, agentKeyFor(ev.SessionID, p.Agent))
			a.tokensTotal += p.TokensUsed
		}
	case schema.EventAgentFailed:
		var p schema.AgentFailedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(a.activeAgents, agentKeyFor(ev.SessionID, p.Agent))
		}
	case schema.EventToolUsage:
		var p schema.ToolUsagePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.toolCounts[p.Tool]++
			if !p.Success {
				a.toolFailures[p.Tool]++
			}
			res, ok := a.toolDurations[p.Tool]
			if !ok {
				res = newReservoir()
				a.toolDurations[p.Tool] = res
			}
			res.add(float64(p.DurationMs))
			RecordToolUsage(p.Tool, p.Success, p.DurationMs)
		}
	case schema.EventWorkflowStarted:
		var p schema.WorkflowStartedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.activeWorkflows[ev.SessionID+":"+p.Workflow] = struct{}{}
		}
	case schema.EventWorkflowCompleted:
		var p schema.WorkflowCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(a.activeWorkflows, ev.SessionID+":"+p.Workflow)
		}
	case schema.EventTaskStarted:
		var p schema.TaskStartedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.activeTasks[p.TaskID] = struct{}{}
			a.taskProgress[p.TaskID] = 0
		}
	case schema.EventTaskStageChanged:
		var p schema.TaskStageChangedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.taskProgress[p.TaskID] = p.ProgressPct
		}
	case schema.EventTaskCompleted:
		var p schema.TaskCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(a.activeTasks, p.TaskID)
			a.taskProgress[p.TaskID] = p.ProgressPct
		}
	case schema.EventTestRunCompleted:
		var p schema.TestRunCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			a.testsPassed += int64(p.Passed)
			a.testsFailed += int64(p.Failed)
		}
	case schema.EventApprovalRequired:
		a.approvalsPending++
	case schema.EventApprovalGranted, schema.EventApprovalDenied:
		if a.approvalsPending > 0 {
			a.approvalsPending--
		}
	}
}

// advanceBuckets rolls the ring forward to cover the current second,
// zeroing any buckets skipped since the last observation. Must be called
// with mu held.
func (a *Aggregator) advanceBuckets(at time.Time) {
	nowSec := at.Unix()
	if nowSec < a.bucketEpoch {
		return // out-of-order delivery from a slower publisher; don't rewind
	}
	delta := int(nowSec - a.bucketEpoch)
	if delta == 0 {
		return
	}
	if delta >= secondBuckets {
		a.buckets = [secondBuckets]int64{}
	} else {
		for i := 0; i < delta; i++ {
			copy(a.buckets[1:], a.buckets[:secondBuckets-1])
			a.buckets[0] = 0
		}
	}
	a.bucketEpoch = nowSec
}

// Snapshot returns the current point-in-time view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	rates := make(map[string]float64, len(rateWindows))
	for name, width := range rateWindows {
		var sum int64
		for i := 0; i < width && i < secondBuckets; i++ {
			sum += a.buckets[i]
		}
		rates[name] = float64(sum) / float64(width)
	}

	tools := make(map[string]ToolStats, len(a.toolCounts))
	for tool, count := range a.toolCounts {
		res := a.toolDurations[tool]
		tools[tool] = ToolStats{
			Count:      count,
			P50Ms:      res.percentile(50),
			P95Ms:      res.percentile(95),
			P99Ms:      res.percentile(99),
			FailureCnt: a.toolFailures[tool],
		}
	}

	var progressSum float64
	for _, p := range a.taskProgress {
		progressSum += p
	}
	avgProgress := 0.0
	if len(a.taskProgress) > 0 {
		avgProgress = progressSum / float64(len(a.taskProgress))
	}

	return Snapshot{
		Timestamp:       a.clk.Now(),
		EventsPerSec:    rates,
		ActiveAgents:    len(a.activeAgents),
		ActiveWorkflows: len(a.activeWorkflows),
		ActiveTasks:     len(a.activeTasks),
		Tools:           tools,
		TokensTotal:     a.tokensTotal,
		TestsPassed:     a.testsPassed,
		TestsFailed:     a.testsFailed,
		AvgTaskProgress: avgProgress,
		ApprovalsPending: a.approvalsPending,
	}
}

func agentKeyFor(sessionID, agent string) string { return sessionID + ":" + agent }
