// Package atomicfile provides the durable whole-file write primitive used by
// the snapshot engine, approval queue, persisted counters and analytics tail
// offsets. Every write goes temp-file -> fsync -> rename,
// never truncate-in-place, per the corresponding design note in SPEC_FULL.md.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path's contents with data. It creates a
// temporary file in the same directory as path (so the final rename is
// same-filesystem and therefore atomic), writes data, fsyncs, then renames
// over path. perm is applied to the temp file before rename.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: write temp %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: fsync temp %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("atomicfile: chmod temp %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: rename %s -> %s: %w", tmpName, path, err)
	}
	return syncDir(dir)
}

// syncDir fsyncs the directory entry itself so the rename survives a crash,
// not just the file contents. Best-effort: some filesystems/platforms
// reject fsync on a directory descriptor, which is not fatal to the write
// that already landed.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
