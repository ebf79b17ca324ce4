package domain

import "time"

// SystemUser is recorded on audit events raised by the service itself.
const SystemUser = "System"

// AuditEvent is one entry in the append-only audit trail.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Details   string    `json:"details"`
}

// AuditLog is an append-only sequence of audit events.
// Implementations must be safe for concurrent use.
type AuditLog interface {
	// Append records an event. A zero Timestamp is set to now.
	Append(event AuditEvent) AuditEvent

	// Snapshot returns a copy of all events in insertion order.
	Snapshot() []AuditEvent
}
