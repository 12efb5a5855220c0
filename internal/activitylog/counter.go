package activitylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jcmd13/subagent-tracking/internal/atomicfile"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

// seqCounter is the persisted, strictly-increasing event sequence number
// for one session. Persisting it in a sidecar file means a restart mid-
// session resumes numbering instead of restarting from zero (spec.md
// section 4.2, testable property 6: counter monotonicity across crashes).
type seqCounter struct {
	mu   sync.Mutex
	path string
	nextVal uint64
}

type seqCounterFile struct {
	Next uint64 `json:"next"`
}

func seqCounterPath(layout config.Layout, sessionID string) string {
	return filepath.Join(layout.CountersDir(), fmt.Sprintf("log_seq_%s.json", sessionID))
}

func loadSeqCounter(layout config.Layout, sessionID string) (*seqCounter, error) {
	path := seqCounterPath(layout, sessionID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &seqCounter{path: path, nextVal: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitylog: read sequence counter %s: %w", path, err)
	}
	var f seqCounterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("activitylog: parse sequence counter %s: %w", path, err)
	}
	return &seqCounter{path: path, nextVal: f.Next}, nil
}

// next returns the next sequence number and durably persists the
// post-increment state before returning, so a crash immediately after
// cannot replay an already-issued id.
func (c *seqCounter) next() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.nextVal
	c.nextVal++

	data, err := json.Marshal(seqCounterFile{Next: c.nextVal})
	if err != nil {
		return 0, fmt.Errorf("activitylog: marshal sequence counter: %w", err)
	}
	if err := atomicfile.Write(c.path, data, 0o644); err != nil {
		c.nextVal-- // persistence failed, do not hand out an id we can't account for
		return 0, fmt.Errorf("activitylog: persist sequence counter: %w", err)
	}
	return seq, nil
}
