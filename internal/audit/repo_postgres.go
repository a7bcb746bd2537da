package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to call_audit_events.
// The table is created by the call store migration.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (
  id, type, call_id, actor_id, actor_role, ip_address,
  from_status, to_status, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.CallID,
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.FromStatus,
		e.ToStatus,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

// ListByCall returns the trail of one call, oldest first.
func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, type, call_id, actor_id, actor_role, ip_address,
       from_status, to_status, message, metadata, created_at
FROM call_audit_events
WHERE call_id = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.CallID, &e.ActorID, &e.ActorRole, &e.IPAddress,
			&e.FromStatus, &e.ToStatus, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
