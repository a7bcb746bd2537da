package callstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

// NotifyChannel is the Postgres NOTIFY channel carrying record changes.
const NotifyChannel = "call_records_changed"

// Migrate creates the call tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// PostgresStore keeps call records in Postgres.
//
// Conditional updates are a single UPDATE ... WHERE status = $expected, so
// the row lock closes the race window. Every write emits pg_notify in the same
// transaction; one LISTEN connection per process feeds the local hub.
//
// NOTE: requires the pgx stdlib driver ("pgx") for LISTEN.
type PostgresStore struct {
	db    *sql.DB
	hub   *hub
	log   *slog.Logger
	clock func() time.Time

	listenOnce sync.Once
	readyOnce  sync.Once
	ready      chan struct{}
	stop       context.CancelFunc
	wg         sync.WaitGroup

	// listens counts LISTEN sessions that became active.
	listens int
}

func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, hub: newHub(), log: log, clock: time.Now, ready: make(chan struct{})}
}

const recordColumns = `id, caller_id, caller_name, receiver_id, receiver_name, status,
meeting_token, meeting_link, error, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r calls.Record) (string, error) {
	if r.ID == "" {
		return "", fmt.Errorf("%w: record id required", calls.ErrInvalidArgument)
	}
	now := s.clock().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r.Version = 1

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_records (` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
		if _, err := tx.ExecContext(ctx, q,
			r.ID,
			r.CallerID,
			r.CallerName,
			r.ReceiverID,
			r.ReceiverName,
			r.Status,
			r.MeetingToken,
			r.MeetingLink,
			r.Error,
			r.Version,
			r.CreatedAt,
			r.UpdatedAt,
		); err != nil {
			return err
		}
		return notifyRecord(ctx, tx, r)
	})
	if err != nil {
		return "", calls.WriteError(err)
	}
	return r.ID, nil
}

func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expected calls.Status, p calls.Patch) (bool, error) {
	var updated bool
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
UPDATE call_records
SET status = $3,
    meeting_token = COALESCE($4, meeting_token),
    meeting_link = COALESCE($5, meeting_link),
    error = COALESCE($6, error),
    version = version + 1,
    updated_at = $7
WHERE id = $1 AND status = $2
RETURNING ` + recordColumns
		r, err := scanRecord(tx.QueryRowContext(ctx, q,
			id,
			expected,
			p.Status,
			nullString(p.MeetingToken),
			nullString(p.MeetingLink),
			nullString(p.Error),
			s.clock().UTC(),
		))
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_records WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return calls.ErrNotFound
			}
			return nil
		}
		if err != nil {
			return err
		}
		updated = true
		return notifyRecord(ctx, tx, r)
	})
	if errors.Is(err, calls.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, calls.WriteError(err)
	}
	return updated, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (calls.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM call_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Record{}, calls.ErrNotFound
		}
		return calls.Record{}, err
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, f calls.Filter) ([]calls.Record, error) {
	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM call_records`+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Subscribe(ctx context.Context, f calls.Filter) (calls.Subscription, error) {
	s.startListener()
	// Wait for LISTEN so that nothing between snapshot and feed is lost.
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	sub := s.hub.subscribe(ctx, f)
	snapshot, err := s.List(ctx, f)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.seed(snapshot)
	return sub, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_records`)
	if err != nil {
		return 0, calls.WriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, calls.WriteError(err)
	}
	return int(n), nil
}

// Close stops the listener and ends every subscription. The *sql.DB is owned by the caller.
func (s *PostgresStore) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
	s.hub.closeAll()
	return nil
}

// startListener runs the LISTEN loop, reconnecting with backoff.
func (s *PostgresStore) startListener() {
	s.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			backoff := 250 * time.Millisecond
			for {
				err := utils.Listen(ctx, s.db, NotifyChannel, s.markReady, s.handleNotification)
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("call change feed interrupted", "err", err, "retry_in", backoff)
				s.feedLost()
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 10*time.Second {
					backoff *= 2
				}
			}
		}()
	})
}

// markReady runs each time LISTEN becomes active. After a reconnect the
// notifications sent in between are gone, so open subscriptions are ended.
func (s *PostgresStore) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
	s.listens++
	if s.listens > 1 {
		s.feedLost()
	}
}

// feedLost ends every subscription; subscribers resubscribe for a fresh snapshot.
func (s *PostgresStore) feedLost() {
	if n := s.hub.len(); n > 0 {
		s.log.Warn("ending call subscriptions after change feed gap", "subscriptions", n)
	}
	s.hub.closeAll()
}

func (s *PostgresStore) handleNotification(payload string) {
	var r calls.Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		s.log.Warn("call change feed payload invalid", "err", err)
		return
	}
	s.hub.publish(r)
}

func notifyRecord(ctx context.Context, tx *sql.Tx, r calls.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return utils.Notify(ctx, tx, NotifyChannel, string(b))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (calls.Record, error) {
	var r calls.Record
	err := row.Scan(
		&r.ID,
		&r.CallerID,
		&r.CallerName,
		&r.ReceiverID,
		&r.ReceiverName,
		&r.Status,
		&r.MeetingToken,
		&r.MeetingLink,
		&r.Error,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func filterClause(f calls.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ID != "" {
		add("id = $%d", f.ID)
	}
	if f.CallerID != "" {
		add("caller_id = $%d", f.CallerID)
	}
	if f.ReceiverID != "" {
		add("receiver_id = $%d", f.ReceiverID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			args = append(args, string(st))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
