package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

const (
	defaultBatchSize     = 100
	defaultBatchInterval = 250 * time.Millisecond
	ingestQueueSize      = 8192
)

// ingester batches incoming events and commits them in a single
// transaction every defaultBatchSize rows or defaultBatchInterval,
// whichever comes first (spec.md section 4.4).
type ingester struct {
	store *Store
	queue chan schema.Event
	done  chan struct{}
}

func newIngester(s *Store) *ingester {
	ing := &ingester{
		store: s,
		queue: make(chan schema.Event, ingestQueueSize),
		done:  make(chan struct{}),
	}
	go ing.run()
	return ing
}

func (ing *ingester) stop() {
	close(ing.queue)
	<-ing.done
}

// Enqueue submits event for ingestion. The call does not block on the
// database write; it only blocks if the in-memory ingest queue itself is
// saturated.
func (ing *ingester) enqueue(event schema.Event) {
	ing.queue <- event
}

// Subscribe wires the store to a bus as one of its two supported ingestion
// paths (the other is TailLog); both produce identical rows.
func (s *Store) Subscribe(b *bus.Bus) bus.Unsubscribe {
	return b.Subscribe(bus.WildcardTopic, func(ev schema.Event) error {
		s.ingester.enqueue(ev)
		return nil
	})
}

func (ing *ingester) run() {
	defer close(ing.done)
	batch := make([]schema.Event, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultBatchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ing.store.ingestBatch(batch); err != nil {
			ing.store.log.Error("analytics: batch ingest failed", zap.Error(err), zap.Int("batch_size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-ing.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ingestBatch commits a batch of events inside a single transaction. Each
// row is keyed so re-ingesting the same event_id is a no-op — the single
// most important property per spec.md section 4.4: the store can always
// be rebuilt by replaying the log without risk.
func (s *Store) ingestBatch(batch []schema.Event) error {
	tx, err := s.writeDB.Begin()
	if err != nil {
		return &AnalyticsIngestError{Reason: fmt.Sprintf("begin tx: %v", err)}
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	for _, ev := range batch {
		if err := ingestOne(tx, ev); err != nil {
			return &AnalyticsIngestError{Reason: fmt.Sprintf("event %s: %v", ev.EventID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &AnalyticsIngestError{Reason: fmt.Sprintf("commit: %v", err)}
	}
	return nil
}

func ingestOne(tx *sql.Tx, ev schema.Event) error {
	if err := ensureSession(tx, ev.SessionID, ev.Timestamp); err != nil {
		return err
	}

	res, err := tx.Exec(
		`INSERT INTO events (event_id, session_id, parent_event_id, timestamp, event_type, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		ev.EventID, ev.SessionID, nullableString(ev.ParentEventID), ev.Timestamp.Format(time.RFC3339Nano),
		string(ev.EventType), string(ev.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert event row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// event_id already present: this event was ingested before (bus
		// delivery and log-tail delivery can both observe the same event,
		// or the bus can redeliver after a crash). Skip the derived-table
		// writes below so they stay idempotent too.
		return nil
	}

	switch ev.EventType {
	case schema.EventAgentInvoked:
		return ingestAgentInvoked(tx, ev)
	case schema.EventAgentCompleted:
		return ingestAgentCompleted(tx, ev, true)
	case schema.EventAgentFailed:
		return ingestAgentCompleted(tx, ev, false)
	case schema.EventToolUsage:
		return ingestToolUsage(tx, ev)
	case schema.EventError:
		return ingestError(tx, ev)
	case schema.EventTaskStarted:
		return ingestTaskStarted(tx, ev)
	case schema.EventTaskStageChanged:
		return ingestTaskStageChanged(tx, ev)
	case schema.EventTaskCompleted:
		return ingestTaskCompleted(tx, ev)
	case schema.EventContextSnapshot:
		return ingestContextSnapshot(tx, ev)
	default:
		return nil // no derived table for this event type
	}
}

func ensureSession(tx *sql.Tx, sessionID string, ts time.Time) error {
	_, err := tx.Exec(
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, ts.Format(time.RFC3339Nano),
	)
	return err
}

// agentKey derives a stable key for the agents table from the session and
// agent name, since the event stream has no explicit agent instance id.
func agentKey(sessionID, agentName string) string {
	return sessionID + ":" + agentName
}

func ingestAgentInvoked(tx *sql.Tx, ev schema.Event) error {
	var p schema.AgentInvokedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode agent.invoked payload: %w", err)
	}
	_, err := tx.Exec(
		`INSERT INTO agents (agent_key, session_id, name, invoked_by, reason, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_key) DO UPDATE SET invoked_by=excluded.invoked_by, reason=excluded.reason`,
		agentKey(ev.SessionID, p.Agent), ev.SessionID, p.Agent, p.InvokedBy, p.Reason, ev.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

func ingestAgentCompleted(tx *sql.Tx, ev schema.Event, success bool) error {
	var agent string
	var tokensUsed int64
	if success {
		var p schema.AgentCompletedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode agent.completed payload: %w", err)
		}
		agent, tokensUsed = p.Agent, p.TokensUsed
	} else {
		var p schema.AgentFailedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode agent.failed payload: %w", err)
		}
		agent = p.Agent
	}

	key := agentKey(ev.SessionID, agent)
	var startedAt string
	row := tx.QueryRow(`SELECT started_at FROM agents WHERE agent_key = ?`, key)
	if err := row.Scan(&startedAt); err != nil {
		// The agent.invoked row may not have been ingested yet (out-of-order
		// delivery is allowed across producers per spec.md section 5); seed
		// a row so the completion still lands.
		startedAt = ev.Timestamp.Format(time.RFC3339Nano)
		if _, err := tx.Exec(
			`INSERT INTO agents (agent_key, session_id, name, started_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(agent_key) DO NOTHING`,
			key, ev.SessionID, agent, startedAt,
		); err != nil {
			return fmt.Errorf("seed agent row: %w", err)
		}
	}

	start, err := time.Parse(time.RFC3339Nano, startedAt)
	var durationMs int64
	if err == nil {
		durationMs = ev.Timestamp.Sub(start).Milliseconds()
	}

	_, err = tx.Exec(
		`UPDATE agents SET finished_at = ?, duration_ms = ?, tokens_used = ?, success = ? WHERE agent_key = ?`,
		ev.Timestamp.Format(time.RFC3339Nano), durationMs, tokensUsed, boolToInt(success), key,
	)
	return err
}

func ingestToolUsage(tx *sql.Tx, ev schema.Event) error {
	var p schema.ToolUsagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode tool.usage payload: %w", err)
	}

	// Tools has no parent-agent foreign key resolved from the payload
	// directly; leave agent_key unset here. No query links a tools row back
	// to its agent or its event.
	errorKind := ""
	if !p.Success {
		errorKind = "tool_failure"
	}
	_, err := tx.Exec(
		`INSERT INTO tools (agent_key, tool, duration_ms, success, error_kind) VALUES (NULL, ?, ?, ?, ?)`,
		p.Tool, p.DurationMs, boolToInt(p.Success), nullableString(errorKind),
	)
	return err
}

func ingestError(tx *sql.Tx, ev schema.Event) error {
	var p schema.ErrorPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode error payload: %w", err)
	}
	contextJSON, _ := json.Marshal(p.Context)

	fixSuccessful := sql.NullBool{}
	if p.FixSuccessful != nil {
		fixSuccessful = sql.NullBool{Bool: *p.FixSuccessful, Valid: true}
	}
	_, err := tx.Exec(
		`INSERT INTO errors (session_id, event_id, kind, context_json, attempted_fix, fix_successful)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.EventID, p.Kind, string(contextJSON), p.AttemptedFix, fixSuccessful,
	)
	return err
}

func ingestTaskStarted(tx *sql.Tx, ev schema.Event) error {
	var p schema.TaskStartedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode task.started payload: %w", err)
	}
	_, err := tx.Exec(
		`INSERT INTO tasks (task_id, parent_task_id, title, status, progress_pct, started_at)
		 VALUES (?, ?, ?, 'running', 0, ?)
		 ON CONFLICT(task_id) DO NOTHING`,
		p.TaskID, nullableString(p.ParentTaskID), p.Title, ev.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

func ingestTaskStageChanged(tx *sql.Tx, ev schema.Event) error {
	var p schema.TaskStageChangedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode task.stage_changed payload: %w", err)
	}
	_, err := tx.Exec(`UPDATE tasks SET progress_pct = ? WHERE task_id = ?`, p.ProgressPct, p.TaskID)
	return err
}

func ingestTaskCompleted(tx *sql.Tx, ev schema.Event) error {
	var p schema.TaskCompletedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode task.completed payload: %w", err)
	}
	status := p.Status
	if status == "" {
		status = "completed"
	}
	_, err := tx.Exec(
		`UPDATE tasks SET status = ?, progress_pct = ?, finished_at = ? WHERE task_id = ?`,
		status, p.ProgressPct, ev.Timestamp.Format(time.RFC3339Nano), p.TaskID,
	)
	return err
}

func ingestContextSnapshot(tx *sql.Tx, ev schema.Event) error {
	var p schema.ContextSnapshotPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode context.snapshot payload: %w", err)
	}
	filesJSON, _ := json.Marshal(p.FilesInContext)

	_, err := tx.Exec(
		`INSERT INTO context (session_id, at_event_id, tokens_before, tokens_after, files_json) VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.EventID, p.TokensBefore, p.TokensAfter, string(filesJSON),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
