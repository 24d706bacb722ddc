package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message     ports.OutboxMessage
	sequence    uint64
	published   bool
	publishedAt time.Time
}

// Store keeps the registry snapshot, idempotency keys and outbox in process
// memory. It backs tests and the STORAGE_DRIVER=memory mode.
type Store struct {
	mu sync.RWMutex

	snapshot    entities.RegistrySnapshot
	hasSnapshot bool
	pollIndex   map[entities.PollID]int
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	sequence    uint64
}

func NewStore() *Store {
	return &Store{
		pollIndex:   make(map[entities.PollID]int),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
	}
}

func (s *Store) LoadSnapshot(_ context.Context) (entities.RegistrySnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSnapshot {
		return entities.RegistrySnapshot{}, false, nil
	}
	return s.snapshot.Clone(), true, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot entities.RegistrySnapshot) error {
	return s.SaveChanges(ctx, snapshot.Delta(), nil)
}

// SaveChanges merges a delta into the stored snapshot and appends its events.
// An older or equal revision is dropped silently since a later save already
// covers it.
func (s *Store) SaveChanges(_ context.Context, delta entities.RegistryDelta, events []ports.EventEnvelope) error {
	messages := make([]ports.OutboxMessage, 0, len(events))
	for _, envelope := range events {
		message, err := outboxMessage(envelope)
		if err != nil {
			return err
		}
		messages = append(messages, message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSnapshot && delta.Revision <= s.snapshot.Revision {
		return nil
	}
	touched := make(map[entities.PollID]struct{}, len(delta.Polls))
	for _, poll := range delta.Polls {
		touched[poll.ID] = struct{}{}
	}
	for _, vote := range delta.Votes {
		_, stored := s.pollIndex[vote.PollID]
		if _, inDelta := touched[vote.PollID]; !stored && !inDelta {
			return fmt.Errorf("%w: vote for unknown poll %d", domainerrors.ErrInvalidSnapshot, vote.PollID)
		}
	}

	s.snapshot.Owner = delta.Owner
	s.snapshot.NextPollID = delta.NextPollID
	s.snapshot.Revision = delta.Revision
	s.hasSnapshot = true
	for _, poll := range delta.Polls {
		if i, ok := s.pollIndex[poll.ID]; ok {
			s.snapshot.Polls[i].Poll = poll.Clone()
			continue
		}
		s.pollIndex[poll.ID] = len(s.snapshot.Polls)
		s.snapshot.Polls = append(s.snapshot.Polls, entities.PollRecord{
			Poll:  poll.Clone(),
			Votes: make(map[string]uint32),
		})
	}
	for _, vote := range delta.Votes {
		votes := s.snapshot.Polls[s.pollIndex[vote.PollID]].Votes
		if _, exists := votes[vote.WalletAddress]; !exists {
			votes[vote.WalletAddress] = vote.OptionIndex
		}
	}
	for _, message := range messages {
		if _, exists := s.outbox[message.OutboxID]; exists {
			continue
		}
		s.sequence++
		s.outbox[message.OutboxID] = outboxRecord{message: message, sequence: s.sequence}
	}
	return nil
}

// Reserve claims key for a pending create. Expired records are replaced.
func (s *Store) Reserve(_ context.Context, record ports.IdempotencyRecord, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	if key == "" {
		return ports.IdempotencyRecord{}, false, domainerrors.ErrIdempotencyKeyRequired
	}
	if existing, exists := s.idempotency[key]; exists && existing.ExpiresAt.After(now.UTC()) {
		return existing, false, nil
	}
	reserved := ports.IdempotencyRecord{
		Key:         key,
		RequestHash: strings.TrimSpace(record.RequestHash),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	s.idempotency[key] = reserved
	return reserved, true, nil
}

func (s *Store) Complete(_ context.Context, key string, pollID entities.PollID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return domainerrors.ErrConflict
	}
	record.PollID = pollID
	record.Completed = true
	record.ExpiresAt = expiresAt.UTC()
	s.idempotency[key] = record
	return nil
}

// Release drops a pending reservation. Completed records stay.
func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = strings.TrimSpace(key)
	if record, exists := s.idempotency[key]; exists && !record.Completed {
		delete(s.idempotency, key)
	}
	return nil
}

func outboxMessage(envelope ports.EventEnvelope) (ports.OutboxMessage, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return ports.OutboxMessage{}, err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return ports.OutboxMessage{
		OutboxID:     outboxID,
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		CreatedAt:    createdAt,
	}, nil
}

// ListPendingOutbox returns unpublished rows in append order.
func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sequence < rows[j].sequence
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outboxID = strings.TrimSpace(outboxID)
	row, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	row.publishedAt = publishedAt.UTC()
	s.outbox[outboxID] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.SnapshotStore = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
