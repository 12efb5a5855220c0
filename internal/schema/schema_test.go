package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandidate(t EventType, payload any) Candidate {
	return Candidate{
		EventID:        "evt_test_000001",
		SessionID:      "sess_test",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FromLocalClock: true,
		EventType:      t,
		Payload:        payload,
	}
}

func TestValidate_UnknownEventType(t *testing.T) {
	cand := validCandidate(EventType("bogus.kind"), map[string]any{})
	_, _, err := Validate(cand, StrictMode)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "event_type", verr.Field)
}

func TestValidate_AgentInvoked(t *testing.T) {
	cand := validCandidate(EventAgentInvoked, AgentInvokedPayload{
		Agent: "planner", InvokedBy: "user", Reason: "start",
	})
	ev, ok, err := Validate(cand, StrictMode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventAgentInvoked, ev.EventType)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
}

func TestValidate_MissingRequiredField_Strict(t *testing.T) {
	cand := validCandidate(EventAgentInvoked, AgentInvokedPayload{InvokedBy: "user"})
	_, _, err := Validate(cand, StrictMode)
	require.Error(t, err)
}

func TestValidate_MissingRequiredField_Lenient(t *testing.T) {
	cand := validCandidate(EventAgentInvoked, AgentInvokedPayload{InvokedBy: "user"})
	ev, ok, err := Validate(cand, LenientMode)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestValidate_NaiveTimestampFromWireRejected(t *testing.T) {
	cand := validCandidate(EventAgentInvoked, AgentInvokedPayload{Agent: "planner"})
	cand.FromLocalClock = false
	cand.TimestampNaive = true
	_, _, err := Validate(cand, StrictMode)
	require.Error(t, err)
}

func TestValidate_ValidationCheckNormalization(t *testing.T) {
	cand := validCandidate(EventValidation, ValidationPayload{
		Target: "task_1",
		Checks: map[string]CheckResult{
			"tests":   CheckResult("pass"),
			"cov":     CheckResult("warn"),
			"secrets": CheckResult("PASSED"),
		},
		Result: CheckResult("mixed"),
	})
	ev, ok, err := Validate(cand, StrictMode)
	require.NoError(t, err)
	require.True(t, ok)

	var p ValidationPayload
	require.NoError(t, unmarshalStrictish(ev.Payload, &p))
	assert.Equal(t, CheckPass, p.Checks["tests"])
	assert.Equal(t, CheckWarn, p.Checks["cov"])
	assert.Equal(t, CheckPass, p.Checks["secrets"])
	assert.Equal(t, CheckUnknown, p.Result)
}

func TestValidate_ProgressPctClamped(t *testing.T) {
	cand := validCandidate(EventTaskStageChanged, TaskStageChangedPayload{
		TaskID: "task_1", Stage: "build", ProgressPct: 150,
	})
	ev, ok, err := Validate(cand, StrictMode)
	require.NoError(t, err)
	require.True(t, ok)

	var p TaskStageChangedPayload
	require.NoError(t, unmarshalStrictish(ev.Payload, &p))
	assert.Equal(t, float64(100), p.ProgressPct)
}

func TestRevalidate_RoundTrip(t *testing.T) {
	cand := validCandidate(EventAgentInvoked, AgentInvokedPayload{Agent: "planner"})
	ev, ok, err := Validate(cand, StrictMode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, Revalidate(ev))
}

func TestFormatEventID(t *testing.T) {
	assert.Equal(t, "evt_sess1_000042", FormatEventID("sess1", 42))
}

func TestFormatSnapshotID(t *testing.T) {
	assert.Equal(t, "snap_000007", FormatSnapshotID(7))
}
