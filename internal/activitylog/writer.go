package activitylog

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

// writeJob is one queued event awaiting durable append.
type writeJob struct {
	event schema.Event
}

const (
	maxWriteRetries  = 5
	retryBaseBackoff = 10 * time.Millisecond
)

// writer is the single background task that owns the current log file for
// a session — "the only code that opens the current log for writing",
// making it the ordering authority per spec.md section 4.2.
type writer struct {
	layout    config.Layout
	sessionID string
	clk       clock.Clock
	log       *zap.Logger

	queue chan writeJob
	done  chan struct{}

	file     *os.File
	written  int64 // bytes written to the current file since open/rotate

	degraded degradedState
	counter  *seqCounter
}

func newWriter(layout config.Layout, sessionID string, clk clock.Clock, log *zap.Logger, queueSize int) (*writer, error) {
	if err := truncateIncompleteTail(layout.SessionLogPath(sessionID)); err != nil {
		return nil, err
	}
	f, err := openCurrentLog(layout, sessionID)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("activitylog: stat current log: %w", err)
	}

	counter, err := loadSeqCounter(layout, sessionID)
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &writer{
		layout:    layout,
		sessionID: sessionID,
		clk:       clk,
		log:       log,
		queue:     make(chan writeJob, queueSize),
		done:      make(chan struct{}),
		file:      f,
		written:   info.Size(),
		counter:   counter,
	}
	go w.run()
	return w, nil
}

// nextEventID reserves and persists the next sequence number for this
// session. Reservation is synchronous and happens before an event is
// queued, so a parent scope id is available to callers immediately even
// though the durable append happens asynchronously.
func (w *writer) nextEventID() (string, error) {
	seq, err := w.counter.next()
	if err != nil {
		return "", err
	}
	return schema.FormatEventID(w.sessionID, seq), nil
}

// enqueue pushes event onto the write queue. ok is false when the queue is
// full (caller applies the configured drop/block policy).
func (w *writer) enqueue(event schema.Event) (ok bool) {
	select {
	case w.queue <- writeJob{event: event}:
		return true
	default:
		return false
	}
}

// enqueueBlocking always waits for room, used by the Block back-pressure
// policy in either validation mode.
func (w *writer) enqueueBlocking(event schema.Event) {
	w.queue <- writeJob{event: event}
}

func (w *writer) run() {
	defer close(w.done)
	for job := range w.queue {
		w.writeWithRetry(job.event)
	}
	w.flushClose()
}

func (w *writer) writeWithRetry(event schema.Event) {
	line, err := encodeLine(event)
	if err != nil {
		w.log.Error("activitylog: failed to encode event, dropping", zap.Error(err), zap.String("event_id", event.EventID))
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseBackoff * time.Duration(1<<uint(attempt-1)))
		}
		if err := w.appendLine(line); err != nil {
			lastErr = err
			continue
		}
		if w.degraded.leave() {
			w.emitRecoveryEvent()
		}
		w.maybeRotate()
		return
	}

	w.degraded.enter()
	w.degraded.countDrop()
	w.log.Error("activitylog: event dropped after exhausting retries",
		zap.Error(lastErr), zap.String("event_id", event.EventID))
}

func (w *writer) appendLine(line []byte) error {
	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("activitylog: write: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("activitylog: fsync: %w", err)
	}
	w.written += int64(n)
	return nil
}

func (w *writer) maybeRotate() {
	if w.written < defaultRotateThresholdBytes {
		return
	}
	fresh, err := rotate(w.layout, w.sessionID, w.file)
	if err != nil {
		w.log.Error("activitylog: rotation failed, continuing on current file", zap.Error(err))
		return
	}
	w.file = fresh
	w.written = 0
}

// emitRecoveryEvent appends the recovery event straight to the current
// file from the writer goroutine, bypassing the queue and enqueue's drop
// policy, since recovery must never itself be dropped.
func (w *writer) emitRecoveryEvent() {
	id, err := w.nextEventID()
	if err != nil {
		w.log.Error("activitylog: failed to assign id for recovery event", zap.Error(err))
		return
	}
	payload := schema.ErrorPayload{Kind: "log_write_degraded_recovered"}
	cand := schema.Candidate{
		EventID:        id,
		SessionID:      w.sessionID,
		Timestamp:      w.clk.Now(),
		FromLocalClock: true,
		EventType:      schema.EventError,
		Payload:        payload,
	}
	ev, ok, err := schema.Validate(cand, schema.StrictMode)
	if err != nil || !ok {
		w.log.Error("activitylog: failed to build recovery event", zap.Error(err))
		return
	}
	line, err := encodeLine(*ev)
	if err != nil {
		return
	}
	_ = w.appendLine(line)
}

// flushClose is called by the writer goroutine once the queue channel is
// closed and drained; it fsyncs and closes the file. It is the only place
// the file is closed: a shutdown whose deadline passes does not close it.
func (w *writer) flushClose() {
	if err := w.file.Sync(); err != nil {
		w.log.Warn("activitylog: fsync on shutdown failed", zap.Error(err))
	}
	if err := w.file.Close(); err != nil {
		w.log.Warn("activitylog: close on shutdown failed", zap.Error(err))
	}
}

// shutdown closes the input queue and waits up to deadline for the
// background writer to drain and close the file. If the deadline passes
// first it logs a warning and returns; the writer goroutine keeps draining
// and closes the file when done, and no error event is written to the log
// for the late close. Idempotent from the
// caller's perspective: closing an already-closed queue channel panics, so
// Logger guards this with a sync.Once.
func (w *writer) shutdown(deadline time.Duration) {
	close(w.queue)
	select {
	case <-w.done:
	case <-time.After(deadline):
		w.log.Warn("activitylog: shutdown deadline exceeded, writer still draining",
			zap.String("session_id", w.sessionID))
	}
}

func (w *writer) droppedCount() int64 { return w.degraded.droppedCount() }
