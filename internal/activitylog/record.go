package activitylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jcmd13/subagent-tracking/internal/schema"
)

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("activitylog: parse timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

// record is the on-wire/on-disk envelope: one self-describing JSON object
// per line, independently parseable so a tail reader can resume from any
// line boundary (SPEC_FULL.md / spec.md section 6).
type record struct {
	EventID       string            `json:"event_id"`
	SessionID     string            `json:"session_id"`
	Timestamp     string            `json:"timestamp"`
	EventType     string            `json:"event_type"`
	ParentEventID string            `json:"parent_event_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func toRecord(e schema.Event) record {
	return record{
		EventID:       e.EventID,
		SessionID:     e.SessionID,
		Timestamp:     e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		EventType:     string(e.EventType),
		ParentEventID: e.ParentEventID,
		Payload:       e.Payload,
		Metadata:      e.Metadata,
	}
}

// encodeLine marshals e as a single newline-terminated JSON line.
func encodeLine(e schema.Event) ([]byte, error) {
	b, err := json.Marshal(toRecord(e))
	if err != nil {
		return nil, fmt.Errorf("activitylog: encode record: %w", err)
	}
	return append(b, '\n'), nil
}

// ReadLine parses one on-disk record line back into a schema.Event. Used by
// tail readers (internal/analytics) and crash-recovery truncation scans.
func ReadLine(line []byte) (schema.Event, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return schema.Event{}, fmt.Errorf("activitylog: decode record: %w", err)
	}
	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return schema.Event{}, err
	}
	return schema.Event{
		EventID:       r.EventID,
		SessionID:     r.SessionID,
		Timestamp:     ts,
		EventType:     schema.EventType(r.EventType),
		ParentEventID: r.ParentEventID,
		Payload:       r.Payload,
		Metadata:      r.Metadata,
	}, nil
}

// ScanValidLines reads complete, newline-terminated lines from r, invoking
// fn for each. A trailing partial line (no terminating newline, e.g. left
// by a crash mid-write) is discarded rather than passed to fn, per the
// "truncated last line on open is discarded" contract — unlike
// bufio.Scanner's default ScanLines split, which returns a final
// unterminated line too.
func ScanValidLines(r io.Reader, fn func(line []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil // partial trailing line discarded
			}
			return fmt.Errorf("activitylog: scan lines: %w", err)
		}
		line = line[:len(line)-1] // drop trailing newline
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}
