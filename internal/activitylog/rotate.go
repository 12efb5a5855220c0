package activitylog

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/jcmd13/subagent-tracking/internal/config"
)

// defaultRotateThresholdBytes is the current-log size above which the
// writer rotates to a fresh file.
const defaultRotateThresholdBytes = 64 * 1024 * 1024

// rotate closes the current log, compresses it into the archive path, and
// returns a freshly opened, empty current file. Rotation itself is atomic
// at the archive step: the compressed bytes are written to a temp file in
// the logs directory, fsynced, then renamed over the archive path, so a
// crash mid-rotation never leaves a half-written archive visible under its
// final name.
func rotate(layout config.Layout, sessionID string, current *os.File) (*os.File, error) {
	currentPath := current.Name()
	if err := current.Sync(); err != nil {
		return nil, fmt.Errorf("activitylog: fsync before rotate: %w", err)
	}
	if err := current.Close(); err != nil {
		return nil, fmt.Errorf("activitylog: close before rotate: %w", err)
	}

	if err := compressToArchive(currentPath, layout.SessionLogArchivePath(sessionID)); err != nil {
		return nil, err
	}
	if err := os.Remove(currentPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("activitylog: remove rotated current file: %w", err)
	}

	fresh, err := openCurrentLog(layout, sessionID)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func compressToArchive(srcPath, archivePath string) error {
	tmp, err := os.CreateTemp(archivePathDir(archivePath), ".tmp-rotate-*")
	if err != nil {
		return fmt.Errorf("activitylog: create rotate temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	src, err := os.Open(srcPath)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("activitylog: open %s for rotation: %w", srcPath, err)
	}
	defer src.Close()

	gz := gzip.NewWriter(tmp)
	if _, err := io.Copy(gz, src); err != nil {
		tmp.Close()
		return fmt.Errorf("activitylog: compress %s: %w", srcPath, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("activitylog: finalize gzip: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("activitylog: fsync rotate temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("activitylog: close rotate temp: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return fmt.Errorf("activitylog: rename rotate temp -> %s: %w", archivePath, err)
	}
	return nil
}

func archivePathDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func openCurrentLog(layout config.Layout, sessionID string) (*os.File, error) {
	path := layout.SessionLogPath(sessionID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("activitylog: open current log %s: %w", path, err)
	}
	return f, nil
}

// truncateIncompleteTail scans a log file from the end and removes a final
// line left incomplete by a crash mid-write (no trailing newline), per
// spec.md's "a partial write is truncated on restart by scanning from the
// end to the last complete record." A missing file is not an error.
func truncateIncompleteTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("activitylog: open %s for tail check: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("activitylog: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, size-1); err != nil {
		return fmt.Errorf("activitylog: read tail byte of %s: %w", path, err)
	}
	if buf[0] == '\n' {
		return nil // file ends on a complete record
	}

	// Find the start of the incomplete trailing line by scanning backward
	// for the previous newline.
	const chunk = 4096
	pos := size
	for pos > 0 {
		readSize := int64(chunk)
		if readSize > pos {
			readSize = pos
		}
		start := pos - readSize
		b := make([]byte, readSize)
		if _, err := f.ReadAt(b, start); err != nil {
			return fmt.Errorf("activitylog: scan %s for last newline: %w", path, err)
		}
		for i := len(b) - 1; i >= 0; i-- {
			if b[i] == '\n' {
				return f.Truncate(start + int64(i) + 1)
			}
		}
		pos = start
	}
	// No newline found anywhere: the whole file is one incomplete record.
	return f.Truncate(0)
}
