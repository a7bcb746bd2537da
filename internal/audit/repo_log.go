package audit

import (
	"context"
	"log/slog"
)

// LogRepo writes each event as one structured log line. It backs the audit
// trail when the process has no database.
type LogRepo struct {
	Log *slog.Logger
}

func (r LogRepo) Append(ctx context.Context, e Event) error {
	l := r.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "audit",
		"event_id", e.ID,
		"type", e.Type,
		"call_id", e.CallID,
		"actor_id", e.ActorID,
		"actor_role", e.ActorRole,
		"ip", e.IPAddress,
		"from", e.FromStatus,
		"to", e.ToStatus,
		"message", e.Message,
	)
	return nil
}
