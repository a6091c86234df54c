// Package postgres provides a PostgreSQL-backed [session.Store].
//
// Sessions live in a sessions table, their conversation logs in a
// session_messages table keyed by session id with ON DELETE CASCADE, so
// removing a session removes its messages in one statement. Message ordering
// is the BIGSERIAL insertion order, which matches conversation order because
// the orchestrator serializes turns per session.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mwolters/parlo/pkg/fault"
	"github.com/mwolters/parlo/pkg/session"
)

// Store is the PostgreSQL-backed session store. All methods are safe for
// concurrent use; per-id consistency is delegated to the database.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Store = (*Store)(nil)

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// pings it, and runs [Migrate] to ensure the session tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Create implements [session.Store].
func (s *Store) Create(ctx context.Context, systemPrompt string) (session.Session, error) {
	id := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("postgres store: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	var created session.Session
	created.ID = id
	err = tx.QueryRow(ctx,
		`INSERT INTO sessions (id) VALUES ($1) RETURNING created_at, last_active_at`,
		id,
	).Scan(&created.CreatedAt, &created.LastActiveAt)
	if err != nil {
		return session.Session{}, fmt.Errorf("postgres store: create session: %w", err)
	}

	if systemPrompt != "" {
		var ts session.Message
		ts.Role = session.RoleSystem
		ts.Content = systemPrompt
		err = tx.QueryRow(ctx,
			`INSERT INTO session_messages (session_id, role, content) VALUES ($1, $2, $3) RETURNING created_at`,
			id, string(session.RoleSystem), systemPrompt,
		).Scan(&ts.Timestamp)
		if err != nil {
			return session.Session{}, fmt.Errorf("postgres store: seed system message: %w", err)
		}
		created.Messages = []session.Message{ts}
	}

	if err := tx.Commit(ctx); err != nil {
		return session.Session{}, fmt.Errorf("postgres store: commit create: %w", err)
	}
	return created, nil
}

// Get implements [session.Store]. An unknown id yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	var out session.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, last_active_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.CreatedAt, &out.LastActiveAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM session_messages WHERE session_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get messages: %w", err)
	}
	out.Messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Message, error) {
		var (
			m    session.Message
			role string
		)
		if err := row.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return session.Message{}, err
		}
		m.Role = session.Role(role)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan messages: %w", err)
	}
	return &out, nil
}

// Resolve implements [session.Store].
func (s *Store) Resolve(ctx context.Context, id string) (*session.Session, error) {
	got, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fault.Newf(fault.CodeSessionNotFound, "session %q not found", id)
	}
	return got, nil
}

// Append implements [session.Store]. The message insert and the
// last_active_at refresh happen in one transaction.
func (s *Store) Append(ctx context.Context, id string, msg session.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET last_active_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres store: touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.CodeSessionNotFound, "session %q not found", id)
	}

	if msg.Timestamp.IsZero() {
		_, err = tx.Exec(ctx,
			`INSERT INTO session_messages (session_id, role, content) VALUES ($1, $2, $3)`,
			id, string(msg.Role), msg.Content,
		)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO session_messages (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			id, string(msg.Role), msg.Content, msg.Timestamp,
		)
	}
	if err != nil {
		return fmt.Errorf("postgres store: append message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit append: %w", err)
	}
	return nil
}

// Remove implements [session.Store]. Messages go with the session via the
// cascade on session_messages.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("postgres store: remove session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ActiveIDs implements [session.Store].
func (s *Store) ActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan ids: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// SweepIdle removes every session whose last_active_at is older than ttl and
// returns the number removed.
func (s *Store) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE last_active_at < now() - ($1::bigint * interval '1 microsecond')`,
		ttl.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres store: sweep idle: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
