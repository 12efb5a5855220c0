package schema

import "fmt"

// FormatEventID builds the canonical event id form: evt_<session>_<6-digit seq>.
// The writer is the sole caller in production; tests may call it directly to
// assert sequence formatting.
func FormatEventID(sessionID string, seq uint64) string {
	return fmt.Sprintf("evt_%s_%06d", sessionID, seq)
}

// FormatSnapshotID builds the canonical snapshot id form: snap_<6-digit>.
func FormatSnapshotID(seq uint64) string {
	return fmt.Sprintf("snap_%06d", seq)
}
