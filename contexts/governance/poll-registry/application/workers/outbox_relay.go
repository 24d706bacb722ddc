package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/ports"
)

// OutboxRelay hands persisted registry events to the event bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	// Topic overrides the per-event-type topic when set.
	Topic     string
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce relays at most BatchSize pending rows in creation order. A row is
// acknowledged only after the bus accepted it, and the cycle stops at the
// first failure so the next cycle resumes from that row.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("poll outbox list failed",
			"event", "poll_registry_outbox_list_failed",
			"module", "governance/poll-registry",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		logger.Debug("poll outbox relay found no pending rows",
			"event", "poll_registry_outbox_relay_noop",
			"module", "governance/poll-registry",
			"layer", "worker",
			"batch_size", limit,
		)
		return nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	published := 0
	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("poll outbox decode failed",
				"event", "poll_registry_outbox_decode_failed",
				"module", "governance/poll-registry",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		topic := r.Topic
		if topic == "" {
			topic = event.EventType
		}
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("poll outbox publish failed",
				"event", "poll_registry_outbox_publish_failed",
				"module", "governance/poll-registry",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_type", topic,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("poll outbox mark published failed",
				"event", "poll_registry_outbox_mark_failed",
				"module", "governance/poll-registry",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		published++
	}

	logger.Info("poll outbox relay cycle completed",
		"event", "poll_registry_outbox_relay_completed",
		"module", "governance/poll-registry",
		"layer", "worker",
		"published_count", published,
	)
	return nil
}
