package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jcmd13/subagent-tracking/internal/activitylog"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the current session's activity log",
	Long: `Print recent events from the on-disk activity log and, with --follow,
keep printing new ones as the single-writer log appends them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		limit, _ := cmd.Flags().GetInt("limit")
		session, _ := cmd.Flags().GetString("session")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		layout, err := config.NewLayout(cwd)
		if err != nil {
			return err
		}

		path, err := resolveLogPath(layout, session)
		if err != nil {
			return err
		}

		if err := printRecent(path, limit); err != nil {
			return err
		}
		if follow {
			return followLog(cmd.Context(), path)
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().BoolP("follow", "f", false, "keep watching for new events (Ctrl+C to stop)")
	tailCmd.Flags().IntP("limit", "n", 20, "number of recent events to print initially")
	tailCmd.Flags().StringP("session", "s", "", "session id; defaults to the most recently modified log")
	rootCmd.AddCommand(tailCmd)
}

// resolveLogPath finds the log file for session, or the most recently
// modified session log under layout.LogsDir() if session is empty.
func resolveLogPath(layout config.Layout, session string) (string, error) {
	if session != "" {
		return layout.SessionLogPath(session), nil
	}

	entries, err := os.ReadDir(layout.LogsDir())
	if err != nil {
		return "", fmt.Errorf("subagentd: read logs dir: %w", err)
	}
	var newest os.DirEntry
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "session_") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest, newestMod = e, info.ModTime()
		}
	}
	if newest == nil {
		return "", fmt.Errorf("subagentd: no session logs found under %s", layout.LogsDir())
	}
	return filepath.Join(layout.LogsDir(), newest.Name()), nil
}

func printRecent(path string, limit int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("subagentd: open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	if err := activitylog.ScanValidLines(f, func(line []byte) error {
		cp := append([]byte(nil), line...)
		lines = append(lines, cp)
		if len(lines) > limit {
			lines = lines[1:]
		}
		return nil
	}); err != nil {
		return err
	}

	for _, line := range lines {
		printEventLine(line)
	}
	return nil
}

// followLog polls path for growth, since the activity logger's writer is
// the sole owner of the file and may rotate it mid-session; a simple
// poll-and-reopen is adequate for an operator-facing tail, unlike the
// analytics store's tailer, which persists per-file offsets across restarts.
func followLog(ctx context.Context, path string) error {
	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		f, err := os.Open(path)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			continue
		}
		if info.Size() < offset {
			offset = 0 // rotated out from under us; start fresh
		}
		if info.Size() > offset {
			if _, err := f.Seek(offset, io.SeekStart); err == nil {
				_ = activitylog.ScanValidLines(f, func(line []byte) error {
					printEventLine(line)
					return nil
				})
			}
			offset = info.Size()
		}
		f.Close()
	}
}

func printEventLine(line []byte) {
	ev, err := activitylog.ReadLine(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subagentd: malformed line: %v\n", err)
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("%s %-22s %s\n", gray(ev.Timestamp.Format("15:04:05.000")), cyan(ev.EventType), compactPayload(ev.Payload))
}

func compactPayload(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
