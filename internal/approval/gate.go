package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/bus"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/schema"
)

// ApprovalRequiredError reports that the caller gave up waiting (its own
// context was cancelled) while the request was still pending a decision.
type ApprovalRequiredError struct{ ApprovalID string }

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval: %s still required, caller context ended before a decision", e.ApprovalID)
}

// ApprovalDeniedError reports that a human or automated decision denied the
// operation outright.
type ApprovalDeniedError struct {
	ApprovalID string
	Reason     string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("approval: %s denied: %s", e.ApprovalID, e.Reason)
}

// ApprovalExpiredError reports that no decision arrived within the
// configured timeout.
type ApprovalExpiredError struct{ ApprovalID string }

func (e *ApprovalExpiredError) Error() string {
	return fmt.Sprintf("approval: %s expired waiting for a decision", e.ApprovalID)
}

// decision is what a waiter receives once Decide resolves its request.
type decision struct {
	status Status
	actor  string
	reason string
}

// Gate is the synchronous approval checkpoint described in spec.md section
// 4.7: it scores a candidate operation, and for anything above threshold it
// persists a request, publishes approval.required, and blocks the calling
// goroutine until a decision arrives or the timeout elapses.
type Gate struct {
	queue   *Queue
	bus     *bus.Bus
	clk     clock.Clock
	log     *zap.Logger
	profile config.RiskProfile

	threshold float64
	timeout   time.Duration
	bypass    bool

	mu      sync.Mutex
	waiters map[string]chan decision
}

// NewGate takes the already-loaded queue and resolves any still-required entry
// whose creation timestamp is already past timeout into StatusExpired,
// per spec.md section 4.7's restart semantics. b may be nil in tests that
// do not care about published events.
func NewGate(queue *Queue, b *bus.Bus, clk clock.Clock, log *zap.Logger, profile config.RiskProfile, cfg *config.Config) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		queue:     queue,
		bus:       b,
		clk:       clk,
		log:       log,
		profile:   profile,
		threshold: cfg.ApprovalThreshold,
		timeout:   time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second,
		bypass:    cfg.ApprovalsBypass,
		waiters:   map[string]chan decision{},
	}
	g.expireStaleOnStartup()
	return g
}

func (g *Gate) expireStaleOnStartup() {
	now := g.clk.Now()
	for _, r := range g.queue.ListByStatus(StatusRequired) {
		if now.Sub(r.Timestamp) >= g.timeout {
			resolved, err := g.queue.Decide(r.ApprovalID, StatusExpired, "", "timed out before process restart", now)
			if err != nil {
				g.log.Warn("approval: failed to expire stale request on startup", zap.String("approval_id", r.ApprovalID), zap.Error(err))
				continue
			}
			g.publish(deniedEventFrom(resolved.SessionID, now, resolved.ApprovalID, resolved.DecisionActor, resolved.DecisionReason))
		}
	}
}

// Check scores op and either proceeds immediately, auto-grants under
// bypass (still recording an auditable request), or blocks until a
// decision arrives or the gate's configured timeout elapses, whichever is
// sooner. ctx governs only the caller's own patience; the approval's own
// timeout always applies independently.
func (g *Gate) Check(ctx context.Context, sessionID, actor string, op Operation) error {
	score, reasons := Score(op, g.profile)
	if score < g.threshold {
		return nil
	}

	now := g.clk.Now()
	id := "appr_" + uuid.New().String()
	req := &Request{
		ApprovalID: id,
		SessionID:  sessionID,
		Timestamp:  now,
		Actor:      actor,
		Tool:       op.Tool,
		Operation:  op.Kind,
		Target:     op.Target,
		RiskScore:  score,
		Reasons:    reasons,
		Status:     StatusRequired,
	}

	if g.bypass {
		req.Status = StatusGranted
		req.Bypassed = true
		req.DecisionActor = "bypass"
		req.DecisionReason = "SUBAGENT_APPROVALS_BYPASS engaged"
		req.DecisionTimestamp = now
		if err := g.queue.Create(req); err != nil {
			return fmt.Errorf("approval: persist bypassed request: %w", err)
		}
		g.log.Warn("approval: bypass engaged, auto-granting", zap.String("approval_id", id), zap.String("target", op.Target))
		g.publish(requiredEvent(sessionID, now, req))
		g.publish(grantedEvent(sessionID, now, req))
		return nil
	}

	if err := g.queue.Create(req); err != nil {
		return fmt.Errorf("approval: persist request: %w", err)
	}
	g.publish(requiredEvent(sessionID, now, req))

	ch := make(chan decision, 1)
	g.mu.Lock()
	g.waiters[id] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiters, id)
		g.mu.Unlock()
	}()

	timeoutCh := g.clk.After(g.timeout)

	select {
	case d := <-ch:
		switch d.status {
		case StatusGranted:
			g.publish(grantedEventFrom(sessionID, g.clk.Now(), id, d.actor, d.reason))
			return nil
		case StatusDenied:
			g.publish(deniedEventFrom(sessionID, g.clk.Now(), id, d.actor, d.reason))
			return &ApprovalDeniedError{ApprovalID: id, Reason: d.reason}
		default:
			return &ApprovalExpiredError{ApprovalID: id}
		}
	case <-timeoutCh:
		resolved, err := g.queue.Decide(id, StatusExpired, "", "approval timeout elapsed", g.clk.Now())
		if err != nil {
			g.log.Warn("approval: failed to persist expiry", zap.String("approval_id", id), zap.Error(err))
		}
		g.publish(deniedEventFrom(resolved.SessionID, g.clk.Now(), resolved.ApprovalID, resolved.DecisionActor, resolved.DecisionReason))
		return &ApprovalExpiredError{ApprovalID: id}
	case <-ctx.Done():
		return &ApprovalRequiredError{ApprovalID: id}
	}
}

// Decide resolves a pending request: the sole entry point CLI and HTTP
// decision surfaces call, so concurrent decisions serialize through the
// queue's own mutator (spec.md section 4.7: "only through the gate's
// mutator, which serializes concurrent decisions").
func (g *Gate) Decide(id string, approve bool, actor, reason string) (Request, error) {
	status := StatusDenied
	if approve {
		status = StatusGranted
	}
	resolved, err := g.queue.Decide(id, status, actor, reason, g.clk.Now())
	if err != nil {
		return Request{}, err
	}

	g.mu.Lock()
	ch, ok := g.waiters[id]
	g.mu.Unlock()
	if ok {
		select {
		case ch <- decision{status: status, actor: actor, reason: reason}:
		default:
		}
	}
	return resolved, nil
}

// Pending lists every request still awaiting a decision.
func (g *Gate) Pending() []Request { return g.queue.ListByStatus(StatusRequired) }

func (g *Gate) publish(ev schema.Event) {
	if g.bus != nil {
		g.bus.Publish(ev)
	}
}

func requiredEvent(sessionID string, at time.Time, r *Request) schema.Event {
	payload, _ := json.Marshal(schema.ApprovalRequiredPayload{
		ApprovalID: r.ApprovalID, Tool: r.Tool, Operation: r.Operation,
		Target: r.Target, RiskScore: r.RiskScore, Reasons: r.Reasons,
	})
	return schema.Event{SessionID: sessionID, Timestamp: at, EventType: schema.EventApprovalRequired, Payload: payload}
}

func grantedEvent(sessionID string, at time.Time, r *Request) schema.Event {
	return grantedEventFrom(sessionID, at, r.ApprovalID, r.DecisionActor, r.DecisionReason)
}

func grantedEventFrom(sessionID string, at time.Time, approvalID, actor, reason string) schema.Event {
	payload, _ := json.Marshal(schema.ApprovalGrantedPayload{ApprovalID: approvalID, DecisionActor: actor, Reason: reason})
	return schema.Event{SessionID: sessionID, Timestamp: at, EventType: schema.EventApprovalGranted, Payload: payload}
}

func deniedEventFrom(sessionID string, at time.Time, approvalID, actor, reason string) schema.Event {
	payload, _ := json.Marshal(schema.ApprovalDeniedPayload{ApprovalID: approvalID, DecisionActor: actor, Reason: reason})
	return schema.Event{SessionID: sessionID, Timestamp: at, EventType: schema.EventApprovalDenied, Payload: payload}
}
