package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/config"
)

func newTestLayout(t *testing.T) config.Layout {
	t.Helper()
	layout, err := config.NewLayout(t.TempDir())
	require.NoError(t, err)
	return layout
}

func TestLoadQueue_EmptyWhenFileAbsent(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	assert.Empty(t, q.ListByStatus(""))
}

func TestQueue_CreateAndGet(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)

	req := &Request{ApprovalID: "appr_1", SessionID: "s1", Status: StatusRequired, Timestamp: time.Now()}
	require.NoError(t, q.Create(req))

	got, ok := q.Get("appr_1")
	require.True(t, ok)
	assert.Equal(t, StatusRequired, got.Status)
}

func TestQueue_PersistsAcrossReload(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	require.NoError(t, q.Create(&Request{ApprovalID: "appr_1", Status: StatusRequired, Timestamp: time.Now()}))

	reloaded, err := LoadQueue(layout)
	require.NoError(t, err)
	got, ok := reloaded.Get("appr_1")
	require.True(t, ok)
	assert.Equal(t, "appr_1", got.ApprovalID)
}

func TestQueue_DecideTransitionsStatus(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	require.NoError(t, q.Create(&Request{ApprovalID: "appr_1", Status: StatusRequired, Timestamp: time.Now()}))

	resolved, err := q.Decide("appr_1", StatusGranted, "alice", "looks fine", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, resolved.Status)
	assert.Equal(t, "alice", resolved.DecisionActor)
}

func TestQueue_DecideIsNoOpOnceResolved(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	require.NoError(t, q.Create(&Request{ApprovalID: "appr_1", Status: StatusRequired, Timestamp: time.Now()}))

	_, err = q.Decide("appr_1", StatusGranted, "alice", "ok", time.Now())
	require.NoError(t, err)

	resolved, err := q.Decide("appr_1", StatusDenied, "bob", "too late", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, resolved.Status, "a resolved request cannot be re-decided")
}

func TestQueue_DecideUnknownIDErrors(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)

	_, err = q.Decide("missing", StatusGranted, "alice", "", time.Now())
	assert.Error(t, err)
}

func TestQueue_ListByStatusFilters(t *testing.T) {
	layout := newTestLayout(t)
	q, err := LoadQueue(layout)
	require.NoError(t, err)
	require.NoError(t, q.Create(&Request{ApprovalID: "appr_1", Status: StatusRequired, Timestamp: time.Now()}))
	require.NoError(t, q.Create(&Request{ApprovalID: "appr_2", Status: StatusGranted, Timestamp: time.Now()}))

	required := q.ListByStatus(StatusRequired)
	assert.Len(t, required, 1)
	assert.Equal(t, "appr_1", required[0].ApprovalID)
}
