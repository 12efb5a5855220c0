package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jcmd13/subagent-tracking/internal/atomicfile"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

// counter is the persisted snapshot id counter (spec.md section 4.3: "The
// snapshot counter is persisted in a sidecar file ... so that identifiers
// remain unique across process restarts.").
type counter struct {
	mu   sync.Mutex
	path string
	next uint64
}

type counterFile struct {
	Next uint64 `json:"next"`
}

func loadCounter(layout config.Layout) (*counter, error) {
	path := layout.SnapshotCounterPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &counter{path: path, next: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read counter %s: %w", path, err)
	}
	var f counterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("snapshot: parse counter %s: %w", path, err)
	}
	return &counter{path: path, next: f.Next}, nil
}

// nextSeq returns the next snapshot sequence number, persisting the
// post-increment state before returning.
func (c *counter) nextSeq() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.next
	c.next++

	data, err := json.Marshal(counterFile{Next: c.next})
	if err != nil {
		return 0, fmt.Errorf("snapshot: marshal counter: %w", err)
	}
	if err := atomicfile.Write(c.path, data, 0o644); err != nil {
		c.next--
		return 0, fmt.Errorf("snapshot: persist counter: %w", err)
	}
	return seq, nil
}
