// Package schema defines the closed set of event kinds the substrate
// accepts, their canonical on-wire form, and the payload shapes associated
// with each kind.
package schema

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event kinds flowing through the substrate.
// Any kind observed on the wire outside this set is a validation error, not
// a silent pass-through.
type EventType string

const (
	EventAgentInvoked  EventType = "agent.invoked"
	EventAgentCompleted EventType = "agent.completed"
	EventAgentFailed   EventType = "agent.failed"
	EventAgentBlocked  EventType = "agent.blocked"

	EventToolUsage EventType = "tool.usage"

	EventFileOp EventType = "file.op"

	EventDecision EventType = "decision"

	EventError EventType = "error"

	EventContextSnapshot EventType = "context.snapshot"

	EventValidation EventType = "validation"

	EventTaskStarted      EventType = "task.started"
	EventTaskStageChanged EventType = "task.stage_changed"
	EventTaskCompleted    EventType = "task.completed"

	EventTestRunStarted   EventType = "test.run_started"
	EventTestRunCompleted EventType = "test.run_completed"

	EventApprovalRequired EventType = "approval.required"
	EventApprovalGranted  EventType = "approval.granted"
	EventApprovalDenied   EventType = "approval.denied"

	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
)

// knownEventTypes is the closed superset adopted per the Open Question
// resolution in SPEC_FULL.md: any wire kind outside this set fails
// validation rather than being silently accepted.
var knownEventTypes = map[EventType]bool{
	EventAgentInvoked:      true,
	EventAgentCompleted:    true,
	EventAgentFailed:       true,
	EventAgentBlocked:      true,
	EventToolUsage:         true,
	EventFileOp:            true,
	EventDecision:          true,
	EventError:             true,
	EventContextSnapshot:   true,
	EventValidation:        true,
	EventTaskStarted:       true,
	EventTaskStageChanged:  true,
	EventTaskCompleted:     true,
	EventTestRunStarted:    true,
	EventTestRunCompleted:  true,
	EventApprovalRequired:  true,
	EventApprovalGranted:   true,
	EventApprovalDenied:    true,
	EventWorkflowStarted:   true,
	EventWorkflowCompleted: true,
}

// IsKnownEventType reports whether t is in the closed superset.
func IsKnownEventType(t EventType) bool {
	return knownEventTypes[t]
}

// Event is the atomic record. Events written to the activity log are built
// through Validate; a few bus-only events (such as the snapshot engine's
// write-failure error event) are constructed directly.
type Event struct {
	EventID       string            `json:"event_id"`
	ParentEventID string            `json:"parent_event_id,omitempty"`
	SessionID     string            `json:"session_id"`
	Timestamp     time.Time         `json:"timestamp"`
	EventType     EventType         `json:"event_type"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CheckResult is the normalized form of a validation-check outcome.
type CheckResult string

const (
	CheckPass    CheckResult = "PASS"
	CheckFail    CheckResult = "FAIL"
	CheckSkip    CheckResult = "SKIP"
	CheckWarn    CheckResult = "WARN"
	CheckUnknown CheckResult = "UNKNOWN"
)

// Payload shapes, one per event kind. These are the typed forms produced by
// Validate; callers may submit a candidate as a map[string]any or as one of
// these structs directly.

type AgentInvokedPayload struct {
	Agent     string `json:"agent"`
	InvokedBy string `json:"invoked_by"`
	Reason    string `json:"reason"`
}

type AgentCompletedPayload struct {
	Agent      string `json:"agent"`
	Success    bool   `json:"success"`
	TokensUsed int64  `json:"tokens_used"`
}

type AgentFailedPayload struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

type AgentBlockedPayload struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

type ToolUsagePayload struct {
	Tool       string `json:"tool"`
	Target     string `json:"target"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
}

type FileOpPayload struct {
	Op          string `json:"op"` // create|read|write|edit|delete
	Path        string `json:"path"`
	ContentHash string `json:"content_hash,omitempty"`
	GitObjectID string `json:"git_object_id,omitempty"`
}

type DecisionPayload struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Selected  string   `json:"selected"`
	Rationale string   `json:"rationale"`
}

type ErrorPayload struct {
	Kind           string            `json:"kind"`
	Context        map[string]string `json:"context,omitempty"`
	AttemptedFix   string            `json:"attempted_fix,omitempty"`
	FixSuccessful  *bool             `json:"fix_successful,omitempty"`
}

type ContextSnapshotPayload struct {
	TokensBefore        int64    `json:"tokens_before"`
	TokensAfter          int64    `json:"tokens_after"`
	FilesInContext       []string `json:"files_in_context"`
	WorkspaceFingerprint string   `json:"workspace_fingerprint,omitempty"`
}

type ValidationPayload struct {
	Target string                 `json:"target"`
	Checks map[string]CheckResult `json:"checks"`
	Result CheckResult            `json:"result"`
}

type TaskStartedPayload struct {
	TaskID             string   `json:"task_id"`
	ParentTaskID       string   `json:"parent_task_id,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Priority           string   `json:"priority,omitempty"`
}

type TaskStageChangedPayload struct {
	TaskID      string `json:"task_id"`
	Stage       string `json:"stage"`
	ProgressPct float64 `json:"progress_pct"`
}

type TaskCompletedPayload struct {
	TaskID      string  `json:"task_id"`
	ProgressPct float64 `json:"progress_pct"`
	Status      string  `json:"status"`
}

type TestRunStartedPayload struct {
	Target string `json:"target"`
}

type TestRunCompletedPayload struct {
	Target string `json:"target"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
}

type ApprovalRequiredPayload struct {
	ApprovalID string   `json:"approval_id"`
	Tool       string   `json:"tool"`
	Operation  string   `json:"operation"`
	Target     string   `json:"target"`
	RiskScore  float64  `json:"risk_score"`
	Reasons    []string `json:"reasons"`
}

type ApprovalGrantedPayload struct {
	ApprovalID   string `json:"approval_id"`
	DecisionActor string `json:"decision_actor"`
	Reason       string `json:"reason,omitempty"`
}

type ApprovalDeniedPayload struct {
	ApprovalID    string `json:"approval_id"`
	DecisionActor string `json:"decision_actor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type WorkflowStartedPayload struct {
	Workflow string `json:"workflow"`
}

type WorkflowCompletedPayload struct {
	Workflow string `json:"workflow"`
	Success  bool   `json:"success"`
}
