package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/activitylog"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

func TestTailOnce_IngestsAppendedLines(t *testing.T) {
	layout, err := config.NewLayout(t.TempDir())
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger, err := activitylog.New(layout, "s1", activitylog.WithClock(clk))
	require.NoError(t, err)

	_, err = logger.Emit(context.Background(), schema.EventAgentInvoked,
		schema.AgentInvokedPayload{Agent: "planner", InvokedBy: "orchestrator", Reason: "test"}, nil)
	require.NoError(t, err)
	logger.Shutdown()

	s := newTestStore(t)
	off, err := loadOffsets(layout)
	require.NoError(t, err)
	require.NoError(t, s.tailOnce(layout, off))

	var count int
	require.NoError(t, s.readDB.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTailOnce_ResumesFromSavedOffset(t *testing.T) {
	layout, err := config.NewLayout(t.TempDir())
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger, err := activitylog.New(layout, "s1", activitylog.WithClock(clk))
	require.NoError(t, err)

	_, err = logger.Emit(context.Background(), schema.EventAgentInvoked,
		schema.AgentInvokedPayload{Agent: "planner", InvokedBy: "orchestrator", Reason: "first"}, nil)
	require.NoError(t, err)
	logger.Shutdown()

	s := newTestStore(t)
	off, err := loadOffsets(layout)
	require.NoError(t, err)
	require.NoError(t, s.tailOnce(layout, off))
	require.NoError(t, off.save())

	logger2, err := activitylog.New(layout, "s1", activitylog.WithClock(clk))
	require.NoError(t, err)
	_, err = logger2.Emit(context.Background(), schema.EventAgentCompleted,
		schema.AgentCompletedPayload{Agent: "planner", Success: true, TokensUsed: 10}, nil)
	require.NoError(t, err)
	logger2.Shutdown()

	off2, err := loadOffsets(layout)
	require.NoError(t, err)
	require.NoError(t, s.tailOnce(layout, off2))

	var count int
	require.NoError(t, s.readDB.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestTailFile_IgnoresMissingFile(t *testing.T) {
	s := newTestStore(t)
	off := &offsets{byFile: map[string]int64{}}
	advanced, err := s.tailFile(os.DevNull+"-missing", off)
	require.NoError(t, err)
	assert.False(t, advanced)
}
