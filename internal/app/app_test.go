package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/clock"
)

func TestStart_WiresAllComponentsAndStops(t *testing.T) {
	cwd := t.TempDir()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	a, err := Start(cwd, Options{Clock: clk, SessionID: "sess_test"})
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, "sess_test", a.SessionID)
	assert.NotNil(t, a.Bus)
	assert.NotNil(t, a.Logger)
	assert.NotNil(t, a.Analytics)
	assert.NotNil(t, a.Snapshots)
	assert.NotNil(t, a.Approvals)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Metrics)
	assert.Nil(t, a.Server) // MetricsAddr was not set

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}

func TestStart_DefaultsSessionIDWhenUnset(t *testing.T) {
	cwd := t.TempDir()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	a, err := Start(cwd, Options{Clock: clk})
	require.NoError(t, err)
	assert.NotEmpty(t, a.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}
