// Package analytics implements the analytics store (SPEC_FULL.md /
// spec.md component 4.4): a single-writer, many-reader sqlite-backed index
// over the event log, fed by either a bus subscription or a log tail, with
// idempotent ingestion so the store can always be rebuilt by replaying the
// log.
package analytics

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

// AnalyticsIngestError reports that the writer could not commit a batch.
type AnalyticsIngestError struct {
	Reason string
}

func (e *AnalyticsIngestError) Error() string {
	return fmt.Sprintf("analytics: ingest error: %s", e.Reason)
}

// Store owns the sqlite-backed analytics database. Exactly one Store
// writes; any number of read-only connections may query concurrently,
// enabled by WAL mode (spec.md section 4.4's concurrency discipline).
type Store struct {
	writeDB *sql.DB // single connection, serializes all writes
	readDB  *sql.DB // pooled, read-only

	clk       clock.Clock
	log       *zap.Logger
	retention config.RetentionConfig

	ingester *ingester
}

// Open opens (creating if needed) the sqlite file at path, applies
// migrations, and starts the batching ingest writer.
func Open(path string, clk clock.Clock, log *zap.Logger, retention config.RetentionConfig) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	writeDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("analytics: open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1) // exactly one writer at a time, per spec.md

	if err := runMigrations(writeDB); err != nil {
		writeDB.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&mode=ro&_query_only=true")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("analytics: open read handle: %w", err)
	}
	readDB.SetMaxOpenConns(8)

	s := &Store{
		writeDB:   writeDB,
		readDB:    readDB,
		clk:       clk,
		log:       log,
		retention: retention,
	}
	s.ingester = newIngester(s)
	return s, nil
}

// Close flushes any pending ingest batch and closes both database handles.
func (s *Store) Close() error {
	s.ingester.stop()
	if err := s.readDB.Close(); err != nil {
		return fmt.Errorf("analytics: close read handle: %w", err)
	}
	if err := s.writeDB.Close(); err != nil {
		return fmt.Errorf("analytics: close write handle: %w", err)
	}
	return nil
}
