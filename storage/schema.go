package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the tables this package uses. Idempotent; hosts
// either run it through Migrate or fold it into their own migrations.
// Session IDs are host-assigned opaque strings, so session_id columns are
// TEXT; row IDs are generated UUIDs.
const Schema = `
CREATE TABLE IF NOT EXISTS contextpg_task_states (
    id           UUID PRIMARY KEY,
    session_id   TEXT NOT NULL,
    data         JSONB NOT NULL,
    priority     TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contextpg_task_states_session
    ON contextpg_task_states (session_id, last_updated DESC);

CREATE TABLE IF NOT EXISTS contextpg_messages (
    id         TEXT NOT NULL,
    session_id TEXT NOT NULL,
    position   INT NOT NULL,
    role       TEXT NOT NULL,
    content    JSONB NOT NULL,
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS contextpg_compaction_events (
    id                  UUID PRIMARY KEY,
    session_id          TEXT NOT NULL,
    strategy            TEXT NOT NULL,
    original_tokens     INT NOT NULL,
    preserved_tokens    INT NOT NULL,
    messages_removed    INT NOT NULL,
    preservation_ratio  DOUBLE PRECISION NOT NULL,
    continuation_prompt TEXT,
    preserved_task_ids  TEXT[] NOT NULL DEFAULT '{}',
    duration_ms         BIGINT NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_contextpg_compaction_events_session
    ON contextpg_compaction_events (session_id, created_at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
