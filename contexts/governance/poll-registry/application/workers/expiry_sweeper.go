package workers

import (
	"context"
	"log/slog"

	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/domain/services"
)

// ExpirySweeper closes polls whose end time has passed. Each run also
// commits whatever earlier operations left pending, so a store outage heals
// on the next tick.
type ExpirySweeper struct {
	Registry *services.Registry
	Commits  *application.Committer
	Logger   *slog.Logger
}

func (s ExpirySweeper) RunOnce(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep is RunOnce reporting the ids it closed. A failed commit is logged and
// retried on the next run; the polls stay closed either way.
func (s ExpirySweeper) Sweep(ctx context.Context) ([]entities.PollID, error) {
	logger := application.ResolveLogger(s.Logger)

	closed := s.Registry.SweepExpiredPolls()
	committed, err := s.Commits.Commit(ctx)
	if err != nil {
		logger.Warn("poll expiry changes persistence deferred",
			"event", "poll_registry_expiry_commit_deferred",
			"module", "governance/poll-registry",
			"layer", "worker",
			"closed_count", len(closed),
			"error", err.Error(),
		)
	}
	if len(closed) == 0 {
		logger.Debug("poll expiry sweep found nothing to close",
			"event", "poll_registry_expiry_noop",
			"module", "governance/poll-registry",
			"layer", "worker",
			"committed_changes", committed,
		)
		return closed, nil
	}

	logger.Info("poll expiry sweep completed",
		"event", "poll_registry_expiry_completed",
		"module", "governance/poll-registry",
		"layer", "worker",
		"closed_count", len(closed),
		"committed_changes", committed,
		"poll_ids", closed,
	)
	return closed, nil
}
