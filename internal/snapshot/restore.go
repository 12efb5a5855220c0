package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jcmd13/subagent-tracking/internal/config"
)

// Restore loads and validates the snapshot file for (sessionID, snapshotID)
// from disk. It is a pure read: it never mutates the workspace, and it
// never writes to the snapshot directory.
func Restore(layout config.Layout, sessionID, snapshotID string) (*Snapshot, error) {
	path := layout.SnapshotPath(sessionID, snapshotID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SnapshotError{SnapshotID: snapshotID, Reason: fmt.Sprintf("read: %v", err)}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &SnapshotError{SnapshotID: snapshotID, Reason: fmt.Sprintf("parse: %v", err)}
	}
	if err := validateSchema(&snap); err != nil {
		return nil, &SnapshotError{SnapshotID: snapshotID, Reason: err.Error()}
	}
	return &snap, nil
}

// validateSchema checks the required top-level keys are present, per
// testable property 5 (snapshot atomicity: every on-disk snapshot parses
// and contains all required top-level keys).
func validateSchema(snap *Snapshot) error {
	if snap.SnapshotID == "" {
		return fmt.Errorf("missing snapshot_id")
	}
	if snap.SessionID == "" {
		return fmt.Errorf("missing session_id")
	}
	if snap.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if snap.Trigger == "" {
		return fmt.Errorf("missing trigger")
	}
	return nil
}
