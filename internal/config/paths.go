package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves the data root and the fixed subdirectory structure every
// component writes under, per SPEC_FULL.md section 6.
type Layout struct {
	Root string
}

const (
	defaultDataDirName = ".subagent"
	legacyDataDirName  = ".claude"
)

// NewLayout resolves the data root from SUBAGENT_DATA_DIR, falling back to
// ./.subagent relative to cwd. If SUBAGENT_MIGRATE_LEGACY is set, it also
// creates a compatibility symlink from the legacy .claude path to the
// resolved root, best-effort.
func NewLayout(cwd string) (Layout, error) {
	root := os.Getenv("SUBAGENT_DATA_DIR")
	if root == "" {
		root = filepath.Join(cwd, defaultDataDirName)
	}
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return Layout{}, fmt.Errorf("config: resolve data dir %q: %w", root, err)
		}
		root = abs
	}

	l := Layout{Root: root}
	for _, dir := range l.allDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Layout{}, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	if truthy(os.Getenv("SUBAGENT_MIGRATE_LEGACY")) {
		legacy := filepath.Join(cwd, legacyDataDirName)
		if _, err := os.Lstat(legacy); os.IsNotExist(err) {
			_ = os.Symlink(root, legacy) // best-effort compatibility alias
		}
	}

	return l, nil
}

func (l Layout) LogsDir() string        { return filepath.Join(l.Root, "logs") }
func (l Layout) StateDir() string       { return filepath.Join(l.Root, "state") }
func (l Layout) AnalyticsDir() string   { return filepath.Join(l.Root, "analytics") }
func (l Layout) HandoffsDir() string    { return filepath.Join(l.Root, "handoffs") }
func (l Layout) ApprovalsDir() string   { return filepath.Join(l.Root, "approvals") }
func (l Layout) CountersDir() string    { return filepath.Join(l.Root, "counters") }
func (l Layout) CredentialsDir() string { return filepath.Join(l.Root, "credentials") }

func (l Layout) allDirs() []string {
	return []string{
		l.LogsDir(), l.StateDir(), l.AnalyticsDir(), l.HandoffsDir(),
		l.ApprovalsDir(), l.CountersDir(), l.CredentialsDir(),
	}
}

// SessionLogPath returns the path of the current session's event log.
func (l Layout) SessionLogPath(sessionID string) string {
	return filepath.Join(l.LogsDir(), fmt.Sprintf("session_%s.log", sessionID))
}

// SessionLogArchivePath returns the rotated, gzip-compressed archive path
// for a session's log.
func (l Layout) SessionLogArchivePath(sessionID string) string {
	return filepath.Join(l.LogsDir(), fmt.Sprintf("session_%s.log.gz", sessionID))
}

// SnapshotPath returns the path of a given session/snapshot pair.
func (l Layout) SnapshotPath(sessionID string, snapID string) string {
	return filepath.Join(l.StateDir(), fmt.Sprintf("session_%s_%s.json", sessionID, snapID))
}

// AnalyticsDBPath returns the analytics store's sqlite file path.
func (l Layout) AnalyticsDBPath() string {
	return filepath.Join(l.AnalyticsDir(), "tracking.db")
}

// HandoffPath returns the generated handoff summary path for a session.
func (l Layout) HandoffPath(sessionID string) string {
	return filepath.Join(l.HandoffsDir(), fmt.Sprintf("session_%s_handoff.md", sessionID))
}

// ApprovalQueuePath returns the approval queue file path.
func (l Layout) ApprovalQueuePath() string {
	return filepath.Join(l.ApprovalsDir(), "queue.json")
}

// SnapshotCounterPath returns the persisted snapshot counter sidecar path.
func (l Layout) SnapshotCounterPath() string {
	return filepath.Join(l.CountersDir(), "snapshot.json")
}

func truthy(v string) bool {
	switch v {
	case "1", "t", "T", "true", "TRUE", "True", "yes", "y":
		return true
	default:
		return false
	}
}
