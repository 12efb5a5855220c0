package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracking.db")
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s, err := Open(dbPath, clk, nil, config.DefaultRetentionConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	var count int
	err := s.readDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'events'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestOpen_ReadHandleRejectsWrites(t *testing.T) {
	s := newTestStore(t)

	_, err := s.readDB.Exec(`INSERT INTO sessions (session_id, started_at) VALUES ('x', '2026-01-01T00:00:00Z')`)
	require.Error(t, err)
}
