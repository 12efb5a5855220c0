package activitylog

import "context"

// Per spec.md section 9's design note: the parent-event stack must be
// carried implicitly across nested scopes without bleeding between
// unrelated producers. Go's context.Context is the natural fit — each
// WithValue call returns a new, immutable context, so pushing a scope
// never mutates state visible to a sibling call tree even when producers
// share a goroutine pool.

type scopeKey struct{}

// scopeState is immutable once constructed; PushParent always allocates a
// new one rather than mutating in place.
type scopeState struct {
	parentEventID string
	sessionID     string
}

// ParentEventID returns the enclosing event id for ctx, if any scope has
// been pushed.
func ParentEventID(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(scopeKey{}).(scopeState)
	if !ok || s.parentEventID == "" {
		return "", false
	}
	return s.parentEventID, true
}

// SessionID returns the session id bound to ctx by a prior scope push, if
// any.
func SessionID(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(scopeKey{}).(scopeState)
	if !ok || s.sessionID == "" {
		return "", false
	}
	return s.sessionID, true
}

// withParent returns a derived context in which eventID is the enclosing
// event for anything emitted downstream. sessionID carries forward so
// nested scopes/emits do not need to repeat it explicitly.
func withParent(ctx context.Context, sessionID, eventID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scopeState{parentEventID: eventID, sessionID: sessionID})
}

// WithSession binds sessionID to ctx with no parent event, the entry point
// for a fresh top-level producer call tree.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scopeState{sessionID: sessionID})
}
