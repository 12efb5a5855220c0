package analytics

import (
	"database/sql"
	"fmt"
	"time"
)

// AgentPerformance is one row of the agent_performance query.
type AgentPerformance struct {
	Agent          string  `json:"agent"`
	Invocations    int     `json:"invocations"`
	SuccessCount   int     `json:"success_count"`
	FailureCount   int     `json:"failure_count"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	TotalTokens    int64   `json:"total_tokens"`
}

// AgentPerformance summarizes per-agent invocation counts, success rate,
// average duration, and token spend over the trailing window.
func (s *Store) AgentPerformance(window time.Duration) ([]AgentPerformance, error) {
	since := s.clk.Now().Add(-window).Format(time.RFC3339Nano)
	rows, err := s.readDB.Query(
		`SELECT name,
		        COUNT(*) AS invocations,
		        SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) AS success_count,
		        SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) AS failure_count,
		        AVG(COALESCE(duration_ms, 0)) AS avg_duration_ms,
		        SUM(tokens_used) AS total_tokens
		 FROM agents
		 WHERE started_at >= ?
		 GROUP BY name
		 ORDER BY invocations DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: agent_performance query: %w", err)
	}
	defer rows.Close()

	var out []AgentPerformance
	for rows.Next() {
		var p AgentPerformance
		var totalTokens sql.NullInt64
		if err := rows.Scan(&p.Agent, &p.Invocations, &p.SuccessCount, &p.FailureCount, &p.AvgDurationMs, &totalTokens); err != nil {
			return nil, fmt.Errorf("analytics: scan agent_performance row: %w", err)
		}
		p.TotalTokens = totalTokens.Int64
		out = append(out, p)
	}
	return out, rows.Err()
}

// ToolEffectiveness is one row of the tool_effectiveness query.
type ToolEffectiveness struct {
	Tool          string  `json:"tool"`
	Invocations   int     `json:"invocations"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ToolEffectiveness reports per-tool invocation counts, success rate, and
// average duration over the trailing window.
func (s *Store) ToolEffectiveness(window time.Duration) ([]ToolEffectiveness, error) {
	since := s.clk.Now().Add(-window).Format(time.RFC3339Nano)
	rows, err := s.readDB.Query(
		`SELECT tools.tool,
		        COUNT(*) AS invocations,
		        AVG(CASE WHEN tools.success = 1 THEN 1.0 ELSE 0.0 END) AS success_rate,
		        AVG(COALESCE(tools.duration_ms, 0)) AS avg_duration_ms
		 FROM tools
		 JOIN events ON events.event_type = 'tool.usage'
		 WHERE events.timestamp >= ?
		 GROUP BY tools.tool
		 ORDER BY invocations DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: tool_effectiveness query: %w", err)
	}
	defer rows.Close()

	var out []ToolEffectiveness
	for rows.Next() {
		var t ToolEffectiveness
		if err := rows.Scan(&t.Tool, &t.Invocations, &t.SuccessRate, &t.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("analytics: scan tool_effectiveness row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ErrorPattern is one row of the error_patterns query.
type ErrorPattern struct {
	Kind         string  `json:"kind"`
	Occurrences  int     `json:"occurrences"`
	FixAttempted int     `json:"fix_attempted"`
	FixSucceeded int     `json:"fix_succeeded"`
}

// ErrorPatterns reports the most frequent error kinds over the trailing
// window, capped at limit rows.
func (s *Store) ErrorPatterns(window time.Duration, limit int) ([]ErrorPattern, error) {
	if limit <= 0 {
		limit = 20
	}
	since := s.clk.Now().Add(-window).Format(time.RFC3339Nano)
	rows, err := s.readDB.Query(
		`SELECT errors.kind,
		        COUNT(*) AS occurrences,
		        SUM(CASE WHEN errors.attempted_fix != '' THEN 1 ELSE 0 END) AS fix_attempted,
		        SUM(CASE WHEN errors.fix_successful = 1 THEN 1 ELSE 0 END) AS fix_succeeded
		 FROM errors
		 JOIN events ON events.event_id = errors.event_id
		 WHERE events.timestamp >= ?
		 GROUP BY errors.kind
		 ORDER BY occurrences DESC
		 LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: error_patterns query: %w", err)
	}
	defer rows.Close()

	var out []ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		if err := rows.Scan(&p.Kind, &p.Occurrences, &p.FixAttempted, &p.FixSucceeded); err != nil {
			return nil, fmt.Errorf("analytics: scan error_patterns row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SessionSummary is the result of the session_summary query.
type SessionSummary struct {
	SessionID     string        `json:"session_id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	TotalTokens   int64         `json:"total_tokens"`
	Phase         string        `json:"phase,omitempty"`
	ExitStatus    string        `json:"exit_status,omitempty"`
	EventCount    int           `json:"event_count"`
	AgentCount    int           `json:"agent_count"`
	TaskCount     int           `json:"task_count"`
	ErrorCount    int           `json:"error_count"`
}

// SessionSummary rolls up everything known about a single session.
func (s *Store) SessionSummary(sessionID string) (*SessionSummary, error) {
	var out SessionSummary
	var startedAt string
	var endedAt, phase, exitStatus sql.NullString
	var totalTokens sql.NullInt64

	row := s.readDB.QueryRow(
		`SELECT session_id, started_at, ended_at, total_tokens, phase, exit_status
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	if err := row.Scan(&out.SessionID, &startedAt, &endedAt, &totalTokens, &phase, &exitStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("analytics: session %q not found", sessionID)
		}
		return nil, fmt.Errorf("analytics: session_summary query: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse started_at: %w", err)
	}
	out.StartedAt = t
	if endedAt.Valid {
		et, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			out.EndedAt = &et
		}
	}
	out.TotalTokens = totalTokens.Int64
	out.Phase = phase.String
	out.ExitStatus = exitStatus.String

	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&out.EventCount); err != nil {
		return nil, fmt.Errorf("analytics: count events: %w", err)
	}
	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM agents WHERE session_id = ?`, sessionID).Scan(&out.AgentCount); err != nil {
		return nil, fmt.Errorf("analytics: count agents: %w", err)
	}
	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM errors WHERE session_id = ?`, sessionID).Scan(&out.ErrorCount); err != nil {
		return nil, fmt.Errorf("analytics: count errors: %w", err)
	}
	if err := s.readDB.QueryRow(
		`SELECT COUNT(DISTINCT json_extract(payload_json, '$.task_id'))
		 FROM events
		 WHERE session_id = ? AND event_type LIKE 'task.%'`, sessionID,
	).Scan(&out.TaskCount); err != nil {
		// Best-effort: tasks has no session_id column, so derive the count
		// from the task.* events belonging to this session instead.
		out.TaskCount = 0
	}

	return &out, nil
}

// CostBucket is one row of the cost_analysis query.
type CostBucket struct {
	Phase       string `json:"phase"`
	TotalTokens int64  `json:"total_tokens"`
	Sessions    int    `json:"sessions"`
}

// CostAnalysis reports total token spend grouped by session phase. Pass an
// empty phase to report across all phases.
func (s *Store) CostAnalysis(phase string) ([]CostBucket, error) {
	query := `SELECT COALESCE(phase, 'unknown'), SUM(total_tokens), COUNT(*)
	          FROM sessions`
	args := []any{}
	if phase != "" {
		query += ` WHERE phase = ?`
		args = append(args, phase)
	}
	query += ` GROUP BY phase ORDER BY SUM(total_tokens) DESC`

	rows, err := s.readDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: cost_analysis query: %w", err)
	}
	defer rows.Close()

	var out []CostBucket
	for rows.Next() {
		var b CostBucket
		var totalTokens sql.NullInt64
		if err := rows.Scan(&b.Phase, &totalTokens, &b.Sessions); err != nil {
			return nil, fmt.Errorf("analytics: scan cost_analysis row: %w", err)
		}
		b.TotalTokens = totalTokens.Int64
		out = append(out, b)
	}
	return out, rows.Err()
}
