package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT         PRIMARY KEY,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_active_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_active
    ON sessions (last_active_at);

CREATE TABLE IF NOT EXISTS session_messages (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_messages_session
    ON session_messages (session_id, id);
`

// Migrate creates or ensures the session tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
