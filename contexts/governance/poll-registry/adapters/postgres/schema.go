package postgresadapter

import (
	"context"
	"fmt"
)

// EnsureSchema creates the registry tables. Safe to call on every start.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec(schema).Error; err != nil {
		return r.logError("poll_registry_repo_schema_failed", fmt.Errorf("create poll registry schema: %w", err))
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS poll_registry_state (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    next_poll_id BIGINT NOT NULL DEFAULT 0,
    revision BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS polls (
    poll_id BIGINT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    options TEXT[] NOT NULL,
    creator TEXT NOT NULL,
    start_time BIGINT NOT NULL,
    end_time BIGINT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    CHECK (start_time < end_time),
    CHECK (cardinality(options) >= 2)
);

CREATE INDEX IF NOT EXISTS idx_polls_active_end ON polls(active, end_time);

CREATE TABLE IF NOT EXISTS poll_votes (
    poll_id BIGINT NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    wallet_address TEXT NOT NULL,
    option_index INTEGER NOT NULL CHECK (option_index >= 0),
    PRIMARY KEY (poll_id, wallet_address)
);

CREATE TABLE IF NOT EXISTS poll_registry_outbox (
    outbox_id TEXT PRIMARY KEY,
    sequence BIGSERIAL NOT NULL,
    event_type TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    payload BYTEA NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'published')),
    created_at TIMESTAMPTZ NOT NULL,
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_poll_registry_outbox_pending
    ON poll_registry_outbox(sequence) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS poll_registry_idempotency (
    key TEXT PRIMARY KEY,
    request_hash TEXT NOT NULL,
    poll_id BIGINT NOT NULL DEFAULT 0,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    expires_at TIMESTAMPTZ NOT NULL
);

ALTER TABLE poll_registry_idempotency
    ADD COLUMN IF NOT EXISTS completed BOOLEAN NOT NULL DEFAULT FALSE;
`
