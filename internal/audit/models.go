package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted, not even by the call purge.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	CallID string `json:"call_id,omitempty" db:"call_id"`

	// ActorID is empty for system actions (ringing timeout, credential issuance).
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the action came over HTTP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated    EventType = "call_created"
	EventTypeCallTransition EventType = "call_transition"
	EventTypeCallsPurged    EventType = "calls_purged"
)
