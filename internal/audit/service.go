package audit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call lifecycle events for internal ops.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type != EventTypeCallsPurged && e.CallID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogPurge records a bulk deletion of call records.
func (s *Service) LogPurge(ctx context.Context, actorID, actorRole, ip string, deleted int, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeCallsPurged,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		Message:   strconv.Itoa(deleted) + " call records purged",
		Metadata:  metadata,
	})
}
