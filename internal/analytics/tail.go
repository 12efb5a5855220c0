package analytics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/activitylog"
	"github.com/jcmd13/subagent-tracking/internal/atomicfile"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

const tailPollInterval = 500 * time.Millisecond

// offsets tracks, per log file, the last byte successfully ingested, so a
// tail resumes where it left off across restarts rather than re-ingesting
// the whole file (re-ingestion would be harmless given idempotent upserts,
// but costly at scale).
type offsets struct {
	path   string
	byFile map[string]int64
}

func loadOffsets(layout config.Layout) (*offsets, error) {
	path := filepath.Join(layout.CountersDir(), "log_tail_offsets.json")
	o := &offsets{path: path, byFile: map[string]int64{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return nil, fmt.Errorf("analytics: read tail offsets: %w", err)
	}
	if err := json.Unmarshal(data, &o.byFile); err != nil {
		return nil, fmt.Errorf("analytics: decode tail offsets: %w", err)
	}
	return o, nil
}

func (o *offsets) save() error {
	data, err := json.Marshal(o.byFile)
	if err != nil {
		return fmt.Errorf("analytics: encode tail offsets: %w", err)
	}
	return atomicfile.Write(o.path, data, 0o644)
}

// TailLogs is the on-disk-log ingestion path: an alternative to Subscribe
// for deployments with no in-process bus (e.g. a separate analytics process
// reading logs written by another process). It polls layout's logs
// directory for session_*.log files and feeds newly appended, complete
// lines into the same ingestBatch path a bus subscription uses, so both
// paths produce identical rows.
func (s *Store) TailLogs(ctx context.Context, layout config.Layout) error {
	off, err := loadOffsets(layout)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return off.save()
		case <-ticker.C:
			if err := s.tailOnce(layout, off); err != nil {
				s.log.Error("analytics: tail pass failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) tailOnce(layout config.Layout, off *offsets) error {
	entries, err := os.ReadDir(layout.LogsDir())
	if err != nil {
		return fmt.Errorf("analytics: list logs dir: %w", err)
	}

	dirty := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		path := filepath.Join(layout.LogsDir(), name)
		advanced, err := s.tailFile(path, off)
		if err != nil {
			s.log.Error("analytics: tail file failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if advanced {
			dirty = true
		}
	}

	if dirty {
		return off.save()
	}
	return nil
}

// tailFile reads any newly-appended, complete lines from path starting at
// its recorded offset, batches them, and advances the offset only past
// lines that were successfully committed.
func (s *Store) tailFile(path string, off *offsets) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	start := off.byFile[path]
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() <= start {
		return false, nil // nothing new, or file was truncated/rotated under us
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return false, err
	}

	br := bufio.NewReaderSize(f, 64*1024)
	var batch []schema.Event
	pos := start
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			break // partial trailing line: stop here, resume from pos next pass
		}
		lineLen := int64(len(line))
		trimmed := line[:len(line)-1]
		if len(trimmed) > 0 {
			ev, decodeErr := activitylog.ReadLine(trimmed)
			if decodeErr != nil {
				s.log.Warn("analytics: skipping malformed tail line", zap.String("path", path), zap.Error(decodeErr))
			} else {
				batch = append(batch, ev)
			}
		}
		pos += lineLen
	}

	if len(batch) == 0 {
		return false, nil
	}
	if err := s.ingestBatch(batch); err != nil {
		return false, err
	}
	off.byFile[path] = pos
	return true, nil
}
