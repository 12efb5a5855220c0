// Package snapshot implements the snapshot engine (SPEC_FULL.md / spec.md
// component 4.3): point-in-time captures of workspace-level state, written
// atomically and restored as a pure read.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/atomicfile"
	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

// TriggerReason is the closed set of reasons a snapshot was captured.
type TriggerReason string

const (
	TriggerManual      TriggerReason = "manual"
	TriggerAgentCount  TriggerReason = "agent_count"
	TriggerTokenCount  TriggerReason = "token_count"
	TriggerBeforeRisky TriggerReason = "before_risky"
	TriggerTime        TriggerReason = "time"
)

// FileEntry is one modified-file record within a snapshot.
type FileEntry struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// AgentContext is the per-agent context summary captured at snapshot time.
type AgentContext struct {
	Name             string   `json:"name"`
	TokensUsed       int64    `json:"tokens_used"`
	TokensRemaining  int64    `json:"tokens_remaining"`
	FilesInContext   []string `json:"files_in_context"`
}

// TaskExcerpt is one entry of the task graph excerpt.
type TaskExcerpt struct {
	TaskID      string  `json:"task_id"`
	ProgressPct float64 `json:"progress_pct"`
}

// Tokens is the aggregate token usage folded into a snapshot.
type Tokens struct {
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Input is the session-owned state the caller supplies to TakeSnapshot;
// the engine cannot derive transcript/task/agent state on its own.
type Input struct {
	TranscriptSummary string
	ModifiedFiles     []FileEntry
	Agents            []AgentContext
	Tasks             []TaskExcerpt
	Tokens            Tokens
	WorkspaceDir      string // git fingerprint probe root; empty skips the probe
}

// Snapshot is the immutable, on-disk capture.
type Snapshot struct {
	SnapshotID        string        `json:"snapshot_id"`
	SessionID         string        `json:"session_id"`
	Timestamp         time.Time     `json:"timestamp"`
	Trigger           TriggerReason `json:"trigger"`
	Transcript        string        `json:"transcript"`
	Files             []FileEntry   `json:"files"`
	GitHead           string        `json:"git_head,omitempty"`
	GitDirty          bool          `json:"git_dirty,omitempty"`
	GitAvailable      bool          `json:"git_available"`
	Agents            []AgentContext `json:"agents"`
	Tasks             []TaskExcerpt  `json:"tasks"`
	Tokens            Tokens         `json:"tokens"`
}

// SnapshotError reports that a capture or restore operation failed.
type SnapshotError struct {
	SnapshotID string
	Reason     string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot: %s: %s", e.SnapshotID, e.Reason)
}

// TriggerConfig holds the configurable thresholds from spec.md section 4.3.
type TriggerConfig struct {
	AgentCountThreshold int           // default 10
	TokenThreshold      int64         // default 20000
	RiskyThreshold      float64       // score above which "before risky" fires
	TimeThreshold       time.Duration // 0 disables the periodic trigger
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		AgentCountThreshold: 10,
		TokenThreshold:      20000,
		RiskyThreshold:      0.7,
		TimeThreshold:       0,
	}
}

// Engine owns the snapshot directory and the persisted snapshot counter.
// Exactly one Engine per session.
type Engine struct {
	layout    config.Layout
	sessionID string
	clk       clock.Clock
	log       *zap.Logger
	bus       *bus.Bus
	cfg       TriggerConfig
	counter   *counter

	mu             sync.Mutex
	agentsSince    int
	tokensSince    int64
	lastSnapshotAt time.Time
}

// New constructs an Engine for sessionID and resumes its persisted counter.
func New(layout config.Layout, sessionID string, clk clock.Clock, log *zap.Logger, b *bus.Bus, cfg TriggerConfig) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := loadCounter(layout)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		layout:    layout,
		sessionID: sessionID,
		clk:       clk,
		log:       log,
		bus:       b,
		cfg:       cfg,
		counter:   c,
	}
	e.lastSnapshotAt = clk.Now()

	if b != nil {
		b.Subscribe(bus.WildcardTopic, func(ev schema.Event) error {
			e.observe(ev)
			return nil
		})
	}
	return e, nil
}

// observe updates the agent-count and token-count accumulators from bus
// traffic. It takes no snapshot itself: a snapshot needs an Input, which
// only the session driving the engine can supply, so the caller polls
// ShouldAutoSnapshot and calls TakeSnapshot with fresh Input.
func (e *Engine) observe(ev schema.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.EventType {
	case schema.EventAgentInvoked:
		e.agentsSince++
	case schema.EventAgentCompleted:
		var p schema.AgentCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			e.tokensSince += p.TokensUsed
		}
	}
}

// ShouldAutoSnapshot reports whether an agent-count, token-count or (when
// TimeThreshold is set) elapsed-time trigger has crossed its threshold
// since the last snapshot.
func (e *Engine) ShouldAutoSnapshot() (TriggerReason, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.agentsSince >= e.cfg.AgentCountThreshold {
		return TriggerAgentCount, true
	}
	if e.cfg.TokenThreshold > 0 && e.tokensSince >= e.cfg.TokenThreshold {
		return TriggerTokenCount, true
	}
	if e.cfg.TimeThreshold > 0 && e.clk.Now().Sub(e.lastSnapshotAt) >= e.cfg.TimeThreshold {
		return TriggerTime, true
	}
	return "", false
}

// ShouldSnapshotBeforeRisky reports whether a tool call with the given risk
// score should trigger a pre-emptive snapshot (trigger 4 in spec.md section
// 4.3), called by the approval gate before it proceeds.
func (e *Engine) ShouldSnapshotBeforeRisky(riskScore float64) bool {
	return riskScore > e.cfg.RiskyThreshold
}

func (e *Engine) resetAccumulators(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agentsSince = 0
	e.tokensSince = 0
	e.lastSnapshotAt = at
}

// TakeSnapshot captures in. On a write failure after retries it returns a
// nil Snapshot and a *SnapshotError; it never returns a success id for a
// failed write.
func (e *Engine) TakeSnapshot(ctx context.Context, reason TriggerReason, in Input) (*Snapshot, error) {
	seq, err := e.counter.nextSeq()
	if err != nil {
		return nil, &SnapshotError{Reason: err.Error()}
	}
	id := schema.FormatSnapshotID(seq)

	var fp Fingerprint
	if in.WorkspaceDir != "" {
		fp = ProbeFingerprint(in.WorkspaceDir)
	}

	snap := &Snapshot{
		SnapshotID:   id,
		SessionID:    e.sessionID,
		Timestamp:    e.clk.Now(),
		Trigger:      reason,
		Transcript:   in.TranscriptSummary,
		Files:        in.ModifiedFiles,
		GitHead:      fp.HeadObjectID,
		GitDirty:     fp.Dirty,
		GitAvailable: fp.Available,
		Agents:       in.Agents,
		Tasks:        in.Tasks,
		Tokens:       in.Tokens,
	}

	if err := e.writeWithRetry(snap); err != nil {
		if e.bus != nil {
			e.bus.Publish(errorEvent(e.sessionID, e.clk.Now(), id, err.Error()))
		}
		return nil, &SnapshotError{SnapshotID: id, Reason: err.Error()}
	}

	e.resetAccumulators(snap.Timestamp)
	return snap, nil
}

const (
	maxSnapshotWriteRetries = 3
	snapshotRetryBackoff    = 50 * time.Millisecond
)

func (e *Engine) writeWithRetry(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := e.layout.SnapshotPath(snap.SessionID, snap.SnapshotID)

	var lastErr error
	for attempt := 0; attempt < maxSnapshotWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(snapshotRetryBackoff * time.Duration(1<<uint(attempt-1)))
		}
		if err := atomicfile.Write(path, data, 0o644); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func errorEvent(sessionID string, ts time.Time, snapshotID, reason string) schema.Event {
	payload, _ := json.Marshal(schema.ErrorPayload{
		Kind:    "snapshot_write_failed",
		Context: map[string]string{"snapshot_id": snapshotID},
	})
	return schema.Event{
		SessionID: sessionID,
		Timestamp: ts,
		EventType: schema.EventError,
		Payload:   payload,
	}
}
