package sqliteadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
)

// Store persists the registry in a single SQLite file. It carries the same
// snapshot, idempotency and outbox boundary as the postgres repository for
// single-node deployments.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates all tables. Safe to call multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.logError("poll_registry_sqlite_schema_failed", fmt.Errorf("create sqlite schema: %w", err))
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (entities.RegistrySnapshot, bool, error) {
	var snapshot entities.RegistrySnapshot
	var nextID, revision int64
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, next_poll_id, revision FROM poll_registry_state WHERE id = 1`,
	).Scan(&snapshot.Owner, &nextID, &revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.RegistrySnapshot{}, false, nil
		}
		return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_load_state_failed", err)
	}
	snapshot.NextPollID = entities.PollID(nextID)
	snapshot.Revision = uint64(revision)

	rows, err := s.db.QueryContext(ctx, `
		SELECT poll_id, title, description, options, creator, start_time, end_time, active
		FROM polls ORDER BY poll_id ASC`)
	if err != nil {
		return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_load_polls_failed", err)
	}
	index := make(map[entities.PollID]int)
	for rows.Next() {
		var (
			pollID  int64
			poll    entities.Poll
			options string
		)
		if err := rows.Scan(&pollID, &poll.Title, &poll.Description, &options,
			&poll.Creator, &poll.StartTime, &poll.EndTime, &poll.Active); err != nil {
			_ = rows.Close()
			return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_scan_poll_failed", err)
		}
		if err := json.Unmarshal([]byte(options), &poll.Options); err != nil {
			_ = rows.Close()
			return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_decode_options_failed", err,
				"poll_id", pollID,
			)
		}
		poll.ID = entities.PollID(pollID)
		index[poll.ID] = len(snapshot.Polls)
		snapshot.Polls = append(snapshot.Polls, entities.PollRecord{
			Poll:  poll,
			Votes: make(map[string]uint32),
		})
	}
	if err := rows.Close(); err != nil {
		return entities.RegistrySnapshot{}, false, err
	}
	if err := rows.Err(); err != nil {
		return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_load_polls_failed", err)
	}

	votes, err := s.db.QueryContext(ctx, `SELECT poll_id, wallet_address, option_index FROM poll_votes`)
	if err != nil {
		return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_load_votes_failed", err)
	}
	defer votes.Close()
	for votes.Next() {
		var (
			pollID int64
			wallet string
			option int64
		)
		if err := votes.Scan(&pollID, &wallet, &option); err != nil {
			return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_scan_vote_failed", err)
		}
		position, ok := index[entities.PollID(pollID)]
		if !ok {
			return entities.RegistrySnapshot{}, false, fmt.Errorf("%w: vote for unknown poll %d", domainerrors.ErrInvalidSnapshot, pollID)
		}
		snapshot.Polls[position].Votes[wallet] = uint32(option)
	}
	if err := votes.Err(); err != nil {
		return entities.RegistrySnapshot{}, false, s.logError("poll_registry_sqlite_load_votes_failed", err)
	}
	return snapshot, true, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot entities.RegistrySnapshot) error {
	return s.SaveChanges(ctx, snapshot.Delta(), nil)
}

// SaveChanges writes the touched polls, the new vote rows and the events of
// one delta. Deltas at or below the stored revision are ignored.
func (s *Store) SaveChanges(ctx context.Context, delta entities.RegistryDelta, events []ports.EventEnvelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.logError("poll_registry_sqlite_begin_failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM poll_registry_state WHERE id = 1`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return s.logError("poll_registry_sqlite_read_revision_failed", err)
	case uint64(stored) >= delta.Revision:
		return nil
	}

	for _, poll := range delta.Polls {
		options, err := json.Marshal(poll.Options)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO polls (poll_id, title, description, options, creator, start_time, end_time, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (poll_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				options = excluded.options,
				creator = excluded.creator,
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				active = excluded.active`,
			int64(poll.ID), poll.Title, poll.Description, string(options),
			poll.Creator, poll.StartTime, poll.EndTime, poll.Active,
		); err != nil {
			return s.logError("poll_registry_sqlite_upsert_poll_failed", err, "poll_id", poll.ID)
		}
	}
	for _, vote := range delta.Votes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_votes (poll_id, wallet_address, option_index)
			VALUES (?, ?, ?)
			ON CONFLICT (poll_id, wallet_address) DO NOTHING`,
			int64(vote.PollID), vote.WalletAddress, int64(vote.OptionIndex),
		); err != nil {
			return s.logError("poll_registry_sqlite_insert_vote_failed", err, "poll_id", vote.PollID)
		}
	}
	for _, envelope := range events {
		if err := appendOutbox(ctx, tx, envelope); err != nil {
			return s.logError("poll_registry_sqlite_outbox_insert_failed", err, "outbox_id", envelope.EventID)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO poll_registry_state (id, owner, next_poll_id, revision, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner = excluded.owner,
			next_poll_id = excluded.next_poll_id,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		delta.Owner, int64(delta.NextPollID), int64(delta.Revision), time.Now().UTC().UnixNano(),
	); err != nil {
		return s.logError("poll_registry_sqlite_write_state_failed", err, "revision", delta.Revision)
	}
	if err := tx.Commit(); err != nil {
		return s.logError("poll_registry_sqlite_commit_failed", err, "revision", delta.Revision)
	}
	return nil
}

// Reserve inserts a pending record, or takes over an expired one.
func (s *Store) Reserve(ctx context.Context, record ports.IdempotencyRecord, now time.Time) (ports.IdempotencyRecord, bool, error) {
	key := strings.TrimSpace(record.Key)
	if key == "" {
		return ports.IdempotencyRecord{}, false, domainerrors.ErrIdempotencyKeyRequired
	}
	hash := strings.TrimSpace(record.RequestHash)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_registry_idempotency (key, request_hash, poll_id, completed, expires_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = excluded.request_hash,
			poll_id = 0,
			completed = 0,
			expires_at = excluded.expires_at
		WHERE poll_registry_idempotency.expires_at <= ?`,
		key, hash, record.ExpiresAt.UTC().UnixNano(), now.UTC().UnixNano(),
	)
	if err != nil {
		return ports.IdempotencyRecord{}, false, s.logError("poll_registry_sqlite_idempotency_reserve_failed", err,
			"idempotency_key", key,
		)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return ports.IdempotencyRecord{Key: key, RequestHash: hash, ExpiresAt: record.ExpiresAt.UTC()}, true, nil
	}

	var (
		existing  ports.IdempotencyRecord
		pollID    int64
		expiresAt int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT key, request_hash, poll_id, completed, expires_at FROM poll_registry_idempotency WHERE key = ?`, key,
	).Scan(&existing.Key, &existing.RequestHash, &pollID, &existing.Completed, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, s.logError("poll_registry_sqlite_idempotency_load_existing_failed", err,
			"idempotency_key", key,
		)
	}
	existing.PollID = entities.PollID(pollID)
	existing.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return existing, false, nil
}

func (s *Store) Complete(ctx context.Context, key string, pollID entities.PollID, expiresAt time.Time) error {
	key = strings.TrimSpace(key)
	result, err := s.db.ExecContext(ctx,
		`UPDATE poll_registry_idempotency SET poll_id = ?, completed = 1, expires_at = ? WHERE key = ?`,
		int64(pollID), expiresAt.UTC().UnixNano(), key,
	)
	if err != nil {
		return s.logError("poll_registry_sqlite_idempotency_complete_failed", err, "idempotency_key", key)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM poll_registry_idempotency WHERE key = ? AND completed = 0`, key,
	); err != nil {
		return s.logError("poll_registry_sqlite_idempotency_release_failed", err, "idempotency_key", key)
	}
	return nil
}

func appendOutbox(ctx context.Context, tx *sql.Tx, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll_registry_outbox (outbox_id, event_type, partition_key, payload, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (outbox_id) DO NOTHING`,
		outboxID, strings.TrimSpace(envelope.EventType), strings.TrimSpace(envelope.PartitionKey),
		payload, createdAt.UnixNano(),
	)
	return err
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT outbox_id, event_type, partition_key, payload, created_at
		FROM poll_registry_outbox
		WHERE status = 'pending'
		ORDER BY sequence ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, s.logError("poll_registry_sqlite_list_pending_outbox_failed", err, "limit", limit)
	}
	defer rows.Close()

	items := make([]ports.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			item      ports.OutboxMessage
			createdAt int64
		)
		if err := rows.Scan(&item.OutboxID, &item.EventType, &item.PartitionKey, &item.Payload, &createdAt); err != nil {
			return nil, s.logError("poll_registry_sqlite_scan_outbox_failed", err)
		}
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE poll_registry_outbox SET status = 'published', published_at = ? WHERE outbox_id = ?`,
		publishedAt.UTC().UnixNano(), strings.TrimSpace(outboxID),
	)
	if err != nil {
		return s.logError("poll_registry_sqlite_mark_outbox_published_failed", err, "outbox_id", outboxID)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "governance/poll-registry",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("poll registry sqlite operation failed", fields...)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS poll_registry_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    next_poll_id INTEGER NOT NULL DEFAULT 0,
    revision INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS polls (
    poll_id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    options TEXT NOT NULL,
    creator TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS poll_votes (
    poll_id INTEGER NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    wallet_address TEXT NOT NULL,
    option_index INTEGER NOT NULL,
    PRIMARY KEY (poll_id, wallet_address)
);

CREATE TABLE IF NOT EXISTS poll_registry_outbox (
    sequence INTEGER PRIMARY KEY AUTOINCREMENT,
    outbox_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    payload BLOB NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL,
    published_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_poll_registry_outbox_status ON poll_registry_outbox(status, sequence);

CREATE TABLE IF NOT EXISTS poll_registry_idempotency (
    key TEXT PRIMARY KEY,
    request_hash TEXT NOT NULL,
    poll_id INTEGER NOT NULL DEFAULT 0,
    completed INTEGER NOT NULL DEFAULT 0,
    expires_at INTEGER NOT NULL
);
`

var _ ports.SnapshotStore = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
