// Package audit provides the append-only, in-memory audit trail.
package audit

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Log is a mutex-guarded append-only list of audit events. It lives for
// the lifetime of the process; nothing is persisted.
type Log struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
	now    func() time.Time
}

// New creates an empty audit log.
func New() *Log {
	return &Log{now: time.Now}
}

// Log appends an event and returns it.
func (l *Log) Log(action, user, details string) domain.AuditEvent {
	return l.Append(domain.AuditEvent{
		Action:  action,
		User:    user,
		Details: details,
	})
}

// Append records an event, stamping it if it has no timestamp.
func (l *Log) Append(event domain.AuditEvent) domain.AuditEvent {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return event
}

// List returns the full history in insertion order.
func (l *Log) List() []domain.AuditEvent {
	return l.Snapshot()
}

// Snapshot returns a copy of the events so callers cannot mutate history.
func (l *Log) Snapshot() []domain.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Trail records events into a local, per-request list and mirrors each
// one into a shared log, so request entries can be returned to the caller
// while still appearing in the process-wide history.
type Trail struct {
	local  *Log
	shared domain.AuditLog
}

// NewTrail creates a trail that mirrors into shared. shared may be nil.
func NewTrail(shared domain.AuditLog) *Trail {
	return &Trail{local: New(), shared: shared}
}

// Append records the event locally and in the shared log.
func (t *Trail) Append(event domain.AuditEvent) domain.AuditEvent {
	event = t.local.Append(event)
	if t.shared != nil {
		t.shared.Append(event)
	}
	return event
}

// Log records a system event by action and details.
func (t *Trail) Log(action, details string) domain.AuditEvent {
	return t.Append(domain.AuditEvent{
		Action:  action,
		User:    domain.SystemUser,
		Details: details,
	})
}

// Snapshot returns the request-local events.
func (t *Trail) Snapshot() []domain.AuditEvent {
	return t.local.Snapshot()
}
