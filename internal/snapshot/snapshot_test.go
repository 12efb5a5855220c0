package snapshot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

func newTestLayout(t *testing.T) config.Layout {
	t.Helper()
	l, err := config.NewLayout(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestTakeSnapshot_WritesRestorableFile(t *testing.T) {
	layout := newTestLayout(t)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	engine, err := New(layout, "sess1", clk, nil, nil, DefaultTriggerConfig())
	require.NoError(t, err)

	snap, err := engine.TakeSnapshot(context.Background(), TriggerManual, Input{
		TranscriptSummary: "did some work",
		Tokens:            Tokens{Used: 100, Remaining: 900},
	})
	require.NoError(t, err)
	assert.Equal(t, "snap_000000", snap.SnapshotID)

	restored, err := Restore(layout, "sess1", snap.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, snap.Transcript, restored.Transcript)
	assert.Equal(t, snap.Tokens, restored.Tokens)
}

func TestTakeSnapshot_CounterIncrementsAndPersists(t *testing.T) {
	layout := newTestLayout(t)
	clk := clock.NewFake(time.Now())
	engine, err := New(layout, "sess1", clk, nil, nil, DefaultTriggerConfig())
	require.NoError(t, err)

	s1, err := engine.TakeSnapshot(context.Background(), TriggerManual, Input{})
	require.NoError(t, err)
	s2, err := engine.TakeSnapshot(context.Background(), TriggerManual, Input{})
	require.NoError(t, err)
	assert.Equal(t, "snap_000000", s1.SnapshotID)
	assert.Equal(t, "snap_000001", s2.SnapshotID)

	engine2, err := New(layout, "sess1", clk, nil, nil, DefaultTriggerConfig())
	require.NoError(t, err)
	s3, err := engine2.TakeSnapshot(context.Background(), TriggerManual, Input{})
	require.NoError(t, err)
	assert.Equal(t, "snap_000002", s3.SnapshotID)
}

func TestShouldAutoSnapshot_AgentCountTrigger(t *testing.T) {
	layout := newTestLayout(t)
	clk := clock.NewFake(time.Now())
	cfg := DefaultTriggerConfig()
	cfg.AgentCountThreshold = 3
	engine, err := New(layout, "sess1", clk, nil, nil, cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		engine.observe(schema.Event{EventType: schema.EventAgentInvoked})
	}
	reason, ok := engine.ShouldAutoSnapshot()
	require.True(t, ok)
	assert.Equal(t, TriggerAgentCount, reason)
}

func TestShouldSnapshotBeforeRisky(t *testing.T) {
	layout := newTestLayout(t)
	clk := clock.NewFake(time.Now())
	engine, err := New(layout, "sess1", clk, nil, nil, DefaultTriggerConfig())
	require.NoError(t, err)

	assert.True(t, engine.ShouldSnapshotBeforeRisky(0.9))
	assert.False(t, engine.ShouldSnapshotBeforeRisky(0.1))
}

func TestRestore_RejectsMissingRequiredKeys(t *testing.T) {
	layout := newTestLayout(t)
	path := layout.SnapshotPath("sess1", "snap_000000")
	require.NoError(t, os.WriteFile(path, []byte(`{"session_id":"sess1"}`), 0o644))

	_, err := Restore(layout, "sess1", "snap_000000")
	assert.Error(t, err)
}
