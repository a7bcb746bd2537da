package calls

import (
	"context"
	"time"
)

// Store is the persistence contract for call records.
//
// Any durable store with an atomic conditional write and a push-based change
// feed satisfies it. Status is only ever changed through ConditionalUpdate;
// there is no blind overwrite.
type Store interface {
	// Create persists a new record and returns its id.
	// Persistence failures are reported as ErrWrite.
	Create(ctx context.Context, r Record) (string, error)

	// ConditionalUpdate applies p only if the stored status equals expected.
	// A status mismatch returns (false, nil). A missing record returns ErrNotFound.
	ConditionalUpdate(ctx context.Context, id string, expected Status, p Patch) (bool, error)

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns the records currently matching f.
	List(ctx context.Context, f Filter) ([]Record, error)

	// Subscribe delivers the records matching f as added events, then every
	// later change relevant to f, in write order per record. Delivery stops
	// when the subscription is closed or ctx is done.
	Subscribe(ctx context.Context, f Filter) (Subscription, error)

	// DeleteAll purges every record. It bypasses the state machine.
	DeleteAll(ctx context.Context) (int, error)
}

// Subscription is a live change feed.
type Subscription interface {
	// Events is closed once the subscription ends. The store also ends it when
	// its change feed had a gap; the subscriber then resubscribes for a fresh snapshot.
	Events() <-chan Event
	Close()
}

// CredentialRequest asks the video backend for a room credential.
type CredentialRequest struct {
	CalleeID string
	RoomID   string
	Role     string
}

// Credential is a signed, time-limited room authorization.
type Credential struct {
	Token     string
	Link      string
	TokenID   string
	ExpiresAt time.Time
}

// CredentialIssuer is the external signing collaborator.
type CredentialIssuer interface {
	Issue(ctx context.Context, req CredentialRequest) (Credential, error)
}

// RingingLimiter caps concurrent ringing calls per caller.
type RingingLimiter interface {
	Acquire(ctx context.Context, callerID string) (bool, error)
	Release(ctx context.Context, callerID string) error
}

// Observer is told about every successful write. Implementations must be
// best-effort; their errors are logged and otherwise ignored.
type Observer interface {
	CallCreated(ctx context.Context, r Record, actor Actor) error
	CallTransitioned(ctx context.Context, from Status, r Record, actor Actor) error
	CallsPurged(ctx context.Context, deleted int, actor Actor) error
}
