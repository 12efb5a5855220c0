package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode controls how Validate reacts to a missing required field.
type Mode int

const (
	// StrictMode raises a *ValidationError to the caller immediately.
	StrictMode Mode = iota
	// LenientMode drops the offending event and reports it via the bool
	// return instead of an error; the event is never written either way.
	LenientMode
)

// Candidate is the untyped, as-submitted form of an event. Producers build
// one of these; Validate turns it into a canonical Event or rejects it. An
// invalid event is never written, in either mode.
type Candidate struct {
	EventID         string
	ParentEventID   string
	SessionID       string
	Timestamp       time.Time
	TimestampIsZero bool // true when the caller did not supply a timestamp
	FromLocalClock  bool // true when the timestamp source is this process (attach UTC); false for untrusted wire input, where a naive (no-zone) timestamp is rejected
	TimestampNaive  bool // true when the original wire timestamp carried no zone marker
	EventType       EventType
	Payload         any // map[string]any, json.RawMessage, or one of the typed Payload structs
	Metadata        map[string]string
}

// Validate canonicalizes cand into an Event, or reports why it cannot. In
// LenientMode a missing required field yields (nil, false, nil) — a drop,
// not an error — so callers can count and log without halting the producer.
// Malformed input (unknown event type, unparseable payload) is always an
// error regardless of mode; only *missing required fields* are lenient.
func Validate(cand Candidate, mode Mode) (*Event, bool, error) {
	if cand.SessionID == "" {
		return nil, false, newValidationError("session_id", "must not be empty")
	}
	if !IsKnownEventType(cand.EventType) {
		return nil, false, newValidationError("event_type", fmt.Sprintf("unknown event type %q", cand.EventType))
	}

	ts, err := canonicalTimestamp(cand)
	if err != nil {
		return nil, false, err
	}

	payload, ok, err := canonicalizePayload(cand.EventType, cand.Payload, mode)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	return &Event{
		EventID:       cand.EventID,
		ParentEventID: cand.ParentEventID,
		SessionID:     cand.SessionID,
		Timestamp:     ts,
		EventType:     cand.EventType,
		Payload:       payload,
		Metadata:      cand.Metadata,
	}, true, nil
}

func canonicalTimestamp(cand Candidate) (time.Time, error) {
	if cand.TimestampIsZero {
		return time.Time{}, newValidationError("timestamp", "must not be zero")
	}
	if cand.TimestampNaive && !cand.FromLocalClock {
		return time.Time{}, newValidationError("timestamp", "naive (zoneless) timestamp rejected from untrusted source")
	}
	return cand.Timestamp.UTC().Round(time.Millisecond), nil
}

// Revalidate re-runs Validate against an already-canonical Event to support
// property 4 (schema conformance): no event written to the log may fail
// re-validation by the same validator.
func Revalidate(e *Event) error {
	cand := Candidate{
		EventID:        e.EventID,
		ParentEventID:  e.ParentEventID,
		SessionID:      e.SessionID,
		Timestamp:      e.Timestamp,
		FromLocalClock: true,
		EventType:      e.EventType,
		Payload:        e.Payload,
		Metadata:       e.Metadata,
	}
	_, _, err := Validate(cand, StrictMode)
	return err
}

// canonicalizePayload type-checks and normalizes the payload for the given
// event type, returning the canonical JSON form. ok is false (with a nil
// error) only for a missing-required-field drop in LenientMode.
func canonicalizePayload(t EventType, payload any, mode Mode) (json.RawMessage, bool, error) {
	raw, err := toRawMessage(payload)
	if err != nil {
		return nil, false, newValidationError("payload", err.Error())
	}

	switch t {
	case EventAgentInvoked:
		var p AgentInvokedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Agent == "" {
			ok, err := missingField(mode, "agent")
			return nil, ok, err
		}
		return marshal(p)
	case EventAgentCompleted:
		var p AgentCompletedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Agent == "" {
			ok, err := missingField(mode, "agent")
			return nil, ok, err
		}
		return marshal(p)
	case EventAgentFailed:
		var p AgentFailedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Agent == "" {
			ok, err := missingField(mode, "agent")
			return nil, ok, err
		}
		return marshal(p)
	case EventAgentBlocked:
		var p AgentBlockedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Agent == "" {
			ok, err := missingField(mode, "agent")
			return nil, ok, err
		}
		return marshal(p)
	case EventToolUsage:
		var p ToolUsagePayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Tool == "" {
			ok, err := missingField(mode, "tool")
			return nil, ok, err
		}
		return marshal(p)
	case EventFileOp:
		var p FileOpPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Path == "" {
			ok, err := missingField(mode, "path")
			return nil, ok, err
		}
		return marshal(p)
	case EventDecision:
		var p DecisionPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Question == "" {
			ok, err := missingField(mode, "question")
			return nil, ok, err
		}
		return marshal(p)
	case EventError:
		var p ErrorPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Kind == "" {
			ok, err := missingField(mode, "kind")
			return nil, ok, err
		}
		return marshal(p)
	case EventContextSnapshot:
		var p ContextSnapshotPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		return marshal(p)
	case EventValidation:
		var p ValidationPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Target == "" {
			ok, err := missingField(mode, "target")
			return nil, ok, err
		}
		for k, v := range p.Checks {
			p.Checks[k] = normalizeCheckResult(string(v))
		}
		p.Result = normalizeCheckResult(string(p.Result))
		return marshal(p)
	case EventTaskStarted:
		var p TaskStartedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.TaskID == "" {
			ok, err := missingField(mode, "task_id")
			return nil, ok, err
		}
		return marshal(p)
	case EventTaskStageChanged:
		var p TaskStageChangedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.TaskID == "" {
			ok, err := missingField(mode, "task_id")
			return nil, ok, err
		}
		p.ProgressPct = clampPct(p.ProgressPct)
		return marshal(p)
	case EventTaskCompleted:
		var p TaskCompletedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.TaskID == "" {
			ok, err := missingField(mode, "task_id")
			return nil, ok, err
		}
		p.ProgressPct = clampPct(p.ProgressPct)
		return marshal(p)
	case EventTestRunStarted:
		var p TestRunStartedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		return marshal(p)
	case EventTestRunCompleted:
		var p TestRunCompletedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		return marshal(p)
	case EventApprovalRequired:
		var p ApprovalRequiredPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.ApprovalID == "" {
			ok, err := missingField(mode, "approval_id")
			return nil, ok, err
		}
		return marshal(p)
	case EventApprovalGranted:
		var p ApprovalGrantedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.ApprovalID == "" {
			ok, err := missingField(mode, "approval_id")
			return nil, ok, err
		}
		return marshal(p)
	case EventApprovalDenied:
		var p ApprovalDeniedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.ApprovalID == "" {
			ok, err := missingField(mode, "approval_id")
			return nil, ok, err
		}
		return marshal(p)
	case EventWorkflowStarted:
		var p WorkflowStartedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Workflow == "" {
			ok, err := missingField(mode, "workflow")
			return nil, ok, err
		}
		return marshal(p)
	case EventWorkflowCompleted:
		var p WorkflowCompletedPayload
		if err := unmarshalStrictish(raw, &p); err != nil {
			return nil, false, newValidationError("payload", err.Error())
		}
		if p.Workflow == "" {
			ok, err := missingField(mode, "workflow")
			return nil, ok, err
		}
		return marshal(p)
	default:
		return nil, false, newValidationError("event_type", fmt.Sprintf("unhandled event type %q", t))
	}
}

// missingField implements the strict/lenient split for required-field
// errors only: strict raises, lenient drops silently (the caller is
// expected to log and count the drop).
func missingField(mode Mode, field string) (bool, error) {
	if mode == StrictMode {
		return false, newValidationError(field, "required field missing")
	}
	return false, nil
}

func toRawMessage(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func unmarshalStrictish(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return json.Unmarshal(raw, out)
}

func marshal(v any) (json.RawMessage, bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false, newValidationError("payload", err.Error())
	}
	return b, true, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// normalizeCheckResult maps loose string spellings of a check outcome onto
// the canonical CheckResult set. Unknown strings never cause the event to
// be dropped; they become CheckUnknown.
func normalizeCheckResult(s string) CheckResult {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed", "true", "1":
		return CheckPass
	case "fail", "failed", "false", "0":
		return CheckFail
	case "skip", "skipped":
		return CheckSkip
	case "warn", "warning":
		return CheckWarn
	default:
		return CheckUnknown
	}
}
