package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	registryStateID = 1
	writeBatchSize  = 500
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// LoadSnapshot reads the registry state row together with every poll and
// vote. A state row that was never written past revision 0 counts as absent.
func (r *Repository) LoadSnapshot(ctx context.Context) (entities.RegistrySnapshot, bool, error) {
	var state registryStateModel
	err := r.db.WithContext(ctx).
		Where("id = ?", registryStateID).
		First(&state).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isUndefinedTable(err) {
			return entities.RegistrySnapshot{}, false, nil
		}
		return entities.RegistrySnapshot{}, false, r.logError("poll_registry_repo_load_state_failed", err)
	}
	if state.Revision == 0 {
		return entities.RegistrySnapshot{}, false, nil
	}

	var polls []pollModel
	if err := r.db.WithContext(ctx).
		Order("poll_id ASC").
		Find(&polls).Error; err != nil {
		return entities.RegistrySnapshot{}, false, r.logError("poll_registry_repo_load_polls_failed", err)
	}
	var votes []voteModel
	if err := r.db.WithContext(ctx).
		Order("poll_id ASC").
		Find(&votes).Error; err != nil {
		return entities.RegistrySnapshot{}, false, r.logError("poll_registry_repo_load_votes_failed", err)
	}

	byPoll := make(map[entities.PollID]map[string]uint32, len(polls))
	for _, vote := range votes {
		pollID := entities.PollID(vote.PollID)
		if byPoll[pollID] == nil {
			byPoll[pollID] = make(map[string]uint32)
		}
		byPoll[pollID][vote.WalletAddress] = uint32(vote.OptionIndex)
	}

	snapshot := entities.RegistrySnapshot{
		Owner:      state.Owner,
		NextPollID: entities.PollID(state.NextPollID),
		Revision:   uint64(state.Revision),
		Polls:      make([]entities.PollRecord, 0, len(polls)),
	}
	for _, row := range polls {
		poll := row.toEntity()
		record := entities.PollRecord{Poll: poll, Votes: byPoll[poll.ID]}
		if record.Votes == nil {
			record.Votes = make(map[string]uint32)
		}
		snapshot.Polls = append(snapshot.Polls, record)
	}
	return snapshot, true, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, snapshot entities.RegistrySnapshot) error {
	return r.SaveChanges(ctx, snapshot.Delta(), nil)
}

// SaveChanges writes one delta in a transaction under a row lock on the state
// row. Only the touched polls and the new vote rows are written. Deltas at or
// below the stored revision are ignored so concurrent writers can never roll
// the registry back.
func (r *Repository) SaveChanges(ctx context.Context, delta entities.RegistryDelta, events []ports.EventEnvelope) error {
	outboxRows := make([]outboxModel, 0, len(events))
	for _, envelope := range events {
		row, err := outboxModelFromEnvelope(envelope)
		if err != nil {
			return r.logError("poll_registry_repo_outbox_marshal_failed", err,
				"event_id", strings.TrimSpace(envelope.EventID),
				"event_type", strings.TrimSpace(envelope.EventType),
			)
		}
		outboxRows = append(outboxRows, row)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := registryStateModel{
			ID:        registryStateID,
			Owner:     delta.Owner,
			UpdatedAt: time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		var state registryStateModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", registryStateID).
			First(&state).
			Error; err != nil {
			return err
		}
		if state.Revision > 0 && uint64(state.Revision) >= delta.Revision {
			return nil
		}

		if len(delta.Polls) > 0 {
			polls := make([]pollModel, 0, len(delta.Polls))
			for _, poll := range delta.Polls {
				polls = append(polls, pollModelFromEntity(poll))
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "poll_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "description", "options", "creator", "start_time", "end_time", "active"}),
			}).CreateInBatches(&polls, writeBatchSize).Error; err != nil {
				return err
			}
		}

		if len(delta.Votes) > 0 {
			votes := make([]voteModel, 0, len(delta.Votes))
			for _, vote := range delta.Votes {
				votes = append(votes, voteModel{
					PollID:        int64(vote.PollID),
					WalletAddress: vote.WalletAddress,
					OptionIndex:   int64(vote.OptionIndex),
				})
			}
			// Vote records never change once written.
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "poll_id"}, {Name: "wallet_address"}},
				DoNothing: true,
			}).CreateInBatches(&votes, writeBatchSize).Error; err != nil {
				return err
			}
		}

		if len(outboxRows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "outbox_id"}},
				DoNothing: true,
			}).Create(&outboxRows).Error; err != nil {
				return err
			}
		}

		return tx.Model(&registryStateModel{}).
			Where("id = ?", registryStateID).
			Updates(map[string]any{
				"owner":        delta.Owner,
				"next_poll_id": int64(delta.NextPollID),
				"revision":     int64(delta.Revision),
				"updated_at":   time.Now().UTC(),
			}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("poll_registry_repo_save_changes_failed", err,
			"revision", delta.Revision,
			"poll_count", len(delta.Polls),
			"vote_count", len(delta.Votes),
			"event_count", len(outboxRows),
		)
	}
	return nil
}

// Reserve inserts a pending record, or takes over an expired one. A live
// record leaves the row untouched and is returned instead.
func (r *Repository) Reserve(ctx context.Context, record ports.IdempotencyRecord, now time.Time) (ports.IdempotencyRecord, bool, error) {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	if row.Key == "" {
		return ports.IdempotencyRecord{}, false, domainerrors.ErrIdempotencyKeyRequired
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"request_hash", "poll_id", "completed", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "poll_registry_idempotency.expires_at <= ?", Vars: []any{now.UTC()}},
		}},
	}).Create(&row)
	if create.Error != nil {
		return ports.IdempotencyRecord{}, false, r.logError("poll_registry_repo_idempotency_reserve_failed", create.Error,
			"idempotency_key", row.Key,
		)
	}
	if create.RowsAffected > 0 {
		return row.toRecord(), true, nil
	}

	var existing idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Released between the insert and the read.
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("poll_registry_repo_idempotency_load_existing_failed", err,
			"idempotency_key", row.Key,
		)
	}
	return existing.toRecord(), false, nil
}

func (r *Repository) Complete(ctx context.Context, key string, pollID entities.PollID, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&idempotencyModel{}).
		Where("key = ?", strings.TrimSpace(key)).
		Updates(map[string]any{
			"poll_id":    int64(pollID),
			"completed":  true,
			"expires_at": expiresAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_registry_repo_idempotency_complete_failed", result.Error,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).
		Where("key = ? AND completed = ?", strings.TrimSpace(key), false).
		Delete(&idempotencyModel{}).Error; err != nil {
		return r.logError("poll_registry_repo_idempotency_release_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	return nil
}

func outboxModelFromEnvelope(envelope ports.EventEnvelope) (outboxModel, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return outboxModel{}, err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_registry_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_registry_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "governance/poll-registry",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll registry repository operation failed", fields...)
	return err
}

type registryStateModel struct {
	ID         int       `gorm:"column:id;primaryKey"`
	Owner      string    `gorm:"column:owner"`
	NextPollID int64     `gorm:"column:next_poll_id"`
	Revision   int64     `gorm:"column:revision"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (registryStateModel) TableName() string {
	return "poll_registry_state"
}

type pollModel struct {
	PollID      int64          `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	Title       string         `gorm:"column:title"`
	Description string         `gorm:"column:description"`
	Options     pq.StringArray `gorm:"column:options;type:text[]"`
	Creator     string         `gorm:"column:creator"`
	StartTime   int64          `gorm:"column:start_time"`
	EndTime     int64          `gorm:"column:end_time"`
	Active      bool           `gorm:"column:active"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) pollModel {
	return pollModel{
		PollID:      int64(poll.ID),
		Title:       poll.Title,
		Description: poll.Description,
		Options:     pq.StringArray(append([]string(nil), poll.Options...)),
		Creator:     poll.Creator,
		StartTime:   poll.StartTime,
		EndTime:     poll.EndTime,
		Active:      poll.Active,
	}
}

func (m pollModel) toEntity() entities.Poll {
	return entities.Poll{
		ID:          entities.PollID(m.PollID),
		Title:       m.Title,
		Description: m.Description,
		Options:     append([]string(nil), m.Options...),
		Creator:     m.Creator,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
		Active:      m.Active,
	}
}

type voteModel struct {
	PollID        int64  `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	WalletAddress string `gorm:"column:wallet_address;primaryKey"`
	OptionIndex   int64  `gorm:"column:option_index"`
}

func (voteModel) TableName() string {
	return "poll_votes"
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	PollID      int64     `gorm:"column:poll_id"`
	Completed   bool      `gorm:"column:completed"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "poll_registry_idempotency"
}

func (m idempotencyModel) toRecord() ports.IdempotencyRecord {
	return ports.IdempotencyRecord{
		Key:         m.Key,
		RequestHash: m.RequestHash,
		PollID:      entities.PollID(m.PollID),
		Completed:   m.Completed,
		ExpiresAt:   m.ExpiresAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Sequence     int64      `gorm:"column:sequence;->"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "poll_registry_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var _ ports.SnapshotStore = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
