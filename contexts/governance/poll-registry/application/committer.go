package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

var ErrIDGeneratorRequired = errors.New("event id generator is required to persist registry changes")

// Committer persists the registry changes journaled since the last
// successful commit, together with one outbox event per change. Commits are
// serialized so every change is written once and events keep revision order.
// A failed commit leaves the changes pending for the next one.
type Committer struct {
	registry *services.Registry
	store    ports.SnapshotStore
	ids      ports.IDGenerator
	logger   *slog.Logger

	mu sync.Mutex
}

// NewCommitter enables change tracking on registry when store is set. A nil
// store makes every commit a no-op.
func NewCommitter(
	registry *services.Registry,
	store ports.SnapshotStore,
	ids ports.IDGenerator,
	logger *slog.Logger,
) *Committer {
	if store != nil {
		registry.TrackChanges()
	}
	return &Committer{
		registry: registry,
		store:    store,
		ids:      ids,
		logger:   ResolveLogger(logger),
	}
}

// Commit writes the pending changes and reports how many it wrote.
func (c *Committer) Commit(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	delta, pending := c.registry.PendingChanges()
	if !pending {
		return 0, nil
	}
	if c.ids == nil {
		return 0, c.logError("poll_registry_commit_misconfigured", ErrIDGeneratorRequired, delta)
	}

	polls := make(map[entities.PollID]entities.Poll, len(delta.Polls))
	for _, poll := range delta.Polls {
		polls[poll.ID] = poll
	}
	events := make([]ports.EventEnvelope, 0, len(delta.Changes))
	for _, change := range delta.Changes {
		eventID, err := c.ids.NewID(ctx)
		if err != nil {
			return 0, c.logError("poll_registry_commit_event_id_failed", err, delta)
		}
		envelope, err := newChangeEnvelope(eventID, change, polls[change.PollID])
		if err != nil {
			return 0, c.logError("poll_registry_commit_event_encode_failed", err, delta)
		}
		events = append(events, envelope)
	}

	if err := c.store.SaveChanges(ctx, delta, events); err != nil {
		return 0, c.logError("poll_registry_commit_failed", err, delta)
	}
	c.registry.MarkPersisted(delta.Revision)
	return len(delta.Changes), nil
}

func (c *Committer) logError(event string, err error, delta entities.RegistryDelta) error {
	c.logger.Error("registry changes not persisted; kept pending",
		"event", event,
		"module", "governance/poll-registry",
		"layer", "application",
		"revision", delta.Revision,
		"change_count", len(delta.Changes),
		"error", err.Error(),
	)
	return err
}
