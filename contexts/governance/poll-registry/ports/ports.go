package ports

import (
	"context"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	contractsv1 "archvote/contracts/gen/events/v1"
)

// SnapshotStore is the durable load/save boundary around the registry.
// SaveChanges writes the touched polls, the new vote rows and the events in
// one transaction. A delta whose revision is not above the stored one is
// ignored as a whole. SaveSnapshot writes a full snapshot the same way.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (entities.RegistrySnapshot, bool, error)
	SaveSnapshot(ctx context.Context, snapshot entities.RegistrySnapshot) error
	SaveChanges(ctx context.Context, delta entities.RegistryDelta, events []EventEnvelope) error
}

// IdempotencyRecord is pending from Reserve until Complete stores the poll
// it produced. Pending records carry a short expiry so a crashed request
// frees its key; Complete extends it to the replay window.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	PollID      entities.PollID
	Completed   bool
	ExpiresAt   time.Time
}

// IdempotencyStore reserves keys before the poll is created so concurrent
// requests with one key cannot both create. Reserve claims the key when no
// live record holds it; otherwise it returns the live record and false.
type IdempotencyStore interface {
	Reserve(ctx context.Context, record IdempotencyRecord, now time.Time) (IdempotencyRecord, bool, error)
	Complete(ctx context.Context, key string, pollID entities.PollID, expiresAt time.Time) error
	Release(ctx context.Context, key string) error
}

// Clock allows deterministic testing of voting windows and expiry.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues event identifiers.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// OutboxMessage is a row ready to relay from the registry outbox.
type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

// OutboxRepository models worker-side outbox polling/acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}
