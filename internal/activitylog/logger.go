// Package activitylog implements the activity logger (SPEC_FULL.md /
// spec.md component 4.2): a non-blocking, multi-producer event submission
// API backed by a single-writer durable append-only log.
package activitylog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

// DroppedID is returned by Emit in lenient mode when the producer queue is
// full and the back-pressure policy is drop-and-count.
const DroppedID = "dropped"

// BackpressurePolicy selects what Emit does when the writer's queue is
// saturated.
type BackpressurePolicy int

const (
	// DropAndCount is the logger's default (spec.md section 5): Emit
	// returns DroppedID, LenientMode never errors, StrictMode returns
	// LogWriteError.
	DropAndCount BackpressurePolicy = iota
	// Block waits for queue room, trading producer latency for a
	// guarantee that no event is ever dropped.
	Block
)

// LogWriteError reports that the logger could not accept or persist an
// event.
type LogWriteError struct {
	EventID string
	Reason  string
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("activitylog: write error for event %s: %s", e.EventID, e.Reason)
}

const defaultQueueSize = 4096
const defaultShutdownDeadline = 5 * time.Second

// Logger is the producer-facing handle. One Logger owns one session's
// on-disk log; construct with New.
type Logger struct {
	sessionID        string
	mode             schema.Mode
	policy           BackpressurePolicy
	clk              clock.Clock
	log              *zap.Logger
	shutdownDeadline time.Duration

	w *writer

	shutdownOnce sync.Once
}

// Option configures a Logger at construction.
type Option func(*loggerOptions)

type loggerOptions struct {
	mode            schema.Mode
	policy          BackpressurePolicy
	clk             clock.Clock
	log             *zap.Logger
	queueSize       int
	shutdownDeadline time.Duration
}

func WithMode(m schema.Mode) Option             { return func(o *loggerOptions) { o.mode = m } }
func WithBackpressure(p BackpressurePolicy) Option { return func(o *loggerOptions) { o.policy = p } }
func WithClock(c clock.Clock) Option            { return func(o *loggerOptions) { o.clk = c } }
func WithLogger(l *zap.Logger) Option            { return func(o *loggerOptions) { o.log = l } }
func WithQueueSize(n int) Option                { return func(o *loggerOptions) { o.queueSize = n } }
func WithShutdownDeadline(d time.Duration) Option {
	return func(o *loggerOptions) { o.shutdownDeadline = d }
}

// New creates a Logger for sessionID, opening (or resuming) its on-disk
// log and sequence counter.
func New(layout config.Layout, sessionID string, opts ...Option) (*Logger, error) {
	o := &loggerOptions{
		mode:             schema.LenientMode,
		policy:           DropAndCount,
		clk:              clock.Real{},
		log:              zap.NewNop(),
		queueSize:        defaultQueueSize,
		shutdownDeadline: defaultShutdownDeadline,
	}
	for _, opt := range opts {
		opt(o)
	}

	w, err := newWriter(layout, sessionID, o.clk, o.log, o.queueSize)
	if err != nil {
		return nil, err
	}

	return &Logger{
		sessionID:        sessionID,
		mode:             o.mode,
		policy:           o.policy,
		clk:              o.clk,
		log:              o.log,
		shutdownDeadline: o.shutdownDeadline,
		w:                w,
	}, nil
}

// Emit validates and durably queues event, returning its assigned id
// immediately — the call does not wait for the disk write. ctx supplies
// the enclosing scope's parent event id, if any (see WithinTool/
// WithinAgent).
func (l *Logger) Emit(ctx context.Context, eventType schema.EventType, payload any, metadata map[string]string) (string, error) {
	id, err := l.w.nextEventID()
	if err != nil {
		return "", &LogWriteError{Reason: err.Error()}
	}
	return l.emitWithID(ctx, id, eventType, payload, metadata)
}

func (l *Logger) emitWithID(ctx context.Context, id string, eventType schema.EventType, payload any, metadata map[string]string) (string, error) {
	parent, _ := ParentEventID(ctx)

	cand := schema.Candidate{
		EventID:        id,
		ParentEventID:  parent,
		SessionID:      l.sessionID,
		Timestamp:      l.clk.Now(),
		FromLocalClock: true,
		EventType:      eventType,
		Payload:        payload,
		Metadata:       metadata,
	}
	ev, ok, err := schema.Validate(cand, l.mode)
	if err != nil {
		return "", err
	}
	if !ok {
		// Lenient-mode drop of an invalid event: never written, not a
		// queue-saturation drop, so it does not count against dropped().
		return DroppedID, nil
	}

	if l.policy == Block {
		l.w.enqueueBlocking(*ev)
		return id, nil
	}

	if l.w.enqueue(*ev) {
		return id, nil
	}
	l.w.degraded.countDrop()
	if l.mode == schema.StrictMode {
		return "", &LogWriteError{EventID: id, Reason: "queue full"}
	}
	return DroppedID, nil
}

// WithinAgent wraps fn such that events emitted inside carry this scope's
// event as their parent, and emits agent.completed (or agent.failed, if fn
// returns an error) on exit. The scope measures no duration: neither exit
// event carries one. Returns fn's error, unmodified.
func (l *Logger) WithinAgent(ctx context.Context, agent, reason string, fn func(ctx context.Context) error) error {
	id, err := l.w.nextEventID()
	if err != nil {
		return &LogWriteError{Reason: err.Error()}
	}
	if _, err := l.emitWithID(ctx, id, schema.EventAgentInvoked, schema.AgentInvokedPayload{
		Agent: agent, Reason: reason,
	}, nil); err != nil {
		return err
	}

	scoped := withParent(ctx, l.sessionID, id)
	fnErr := fn(scoped)

	if fnErr != nil {
		_, _ = l.Emit(ctx, schema.EventAgentFailed, schema.AgentFailedPayload{
			Agent: agent, Reason: fnErr.Error(),
		}, nil)
		return fnErr
	}
	_, _ = l.Emit(ctx, schema.EventAgentCompleted, schema.AgentCompletedPayload{
		Agent: agent, Success: true,
	}, nil)
	return nil
}

// WithinTool wraps fn and emits exactly one tool.usage event on exit,
// combining start and end into the single event the schema defines, with
// duration measured from entry. The event's id is reserved at entry so
// nested emits (e.g. file.op) can carry it as their parent before it is
// actually written.
func (l *Logger) WithinTool(ctx context.Context, tool, target string, fn func(ctx context.Context) error) error {
	id, err := l.w.nextEventID()
	if err != nil {
		return &LogWriteError{Reason: err.Error()}
	}
	start := l.clk.Now()
	scoped := withParent(ctx, l.sessionID, id)

	fnErr := fn(scoped)
	duration := l.clk.Now().Sub(start)

	_, emitErr := l.emitWithID(ctx, id, schema.EventToolUsage, schema.ToolUsagePayload{
		Tool: tool, Target: target, Success: fnErr == nil, DurationMs: duration.Milliseconds(),
	}, nil)
	if fnErr != nil {
		return fnErr
	}
	return emitErr
}

// DroppedCount returns the cumulative count of events dropped due to
// queue saturation or terminal write failure (degraded mode).
func (l *Logger) DroppedCount() int64 { return l.w.droppedCount() }

// Shutdown waits up to a bounded deadline for the write queue to drain and
// the file to close. When the deadline passes first, Shutdown logs a
// warning and returns while the background writer keeps draining and closes
// the file once done; no error event records the late close. Idempotent.
func (l *Logger) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.w.shutdown(l.shutdownDeadline)
	})
}
