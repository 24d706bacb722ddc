package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

type CreatePollCommand struct {
	Creator        string
	IdempotencyKey string
	Title          string
	Description    string
	Options        []string
	StartTime      int64
	EndTime        int64
}

type CreatePollResult struct {
	PollID   entities.PollID
	Replayed bool
}

type CastVoteCommand struct {
	PollID        entities.PollID
	WalletAddress string
	OptionIndex   uint32
}

type ClosePollCommand struct {
	PollID entities.PollID
	Caller string
}

const (
	pendingReservationTTL = time.Minute
	reservationPollDelay  = 20 * time.Millisecond
)

// PollUseCase drives registry mutations and, once a mutation succeeded,
// hands the journaled change to the committer. A failed commit does not fail
// the operation: the change is already visible and rides the next commit.
// Commits and Idempotency are optional.
type PollUseCase struct {
	Registry        *services.Registry
	Commits         *application.Committer
	Idempotency     ports.IdempotencyStore
	Clock           ports.Clock
	IdempotencyTTL  time.Duration
	IdempotencyWait time.Duration
	Logger          *slog.Logger
}

// CreatePoll opens a new poll. A non-empty idempotency key makes the call
// replay-safe: the key is reserved before the poll is created, and the same
// key and payload return the original poll id.
func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (CreatePollResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	cmd.Creator = strings.TrimSpace(cmd.Creator)
	logger.Info("poll create processing started",
		"event", "poll_registry_create_started",
		"module", "governance/poll-registry",
		"layer", "application",
		"creator", cmd.Creator,
		"option_count", len(cmd.Options),
	)

	requestHash := hashCreatePollCommand(cmd)
	reserved := false
	if key != "" && uc.Idempotency != nil {
		replay, done, err := uc.reserveKey(ctx, key, requestHash)
		if err != nil {
			logger.Warn("poll create idempotency reservation failed",
				"event", "poll_registry_create_idempotency_failed",
				"module", "governance/poll-registry",
				"layer", "application",
				"creator", cmd.Creator,
				"error", err.Error(),
			)
			return CreatePollResult{}, err
		}
		if done {
			logger.Info("poll create replayed",
				"event", "poll_registry_create_replayed",
				"module", "governance/poll-registry",
				"layer", "application",
				"poll_id", replay.PollID,
			)
			return replay, nil
		}
		reserved = true
	}

	pollID, err := uc.Registry.CreatePoll(
		cmd.Creator,
		cmd.Title,
		cmd.Description,
		cmd.Options,
		cmd.StartTime,
		cmd.EndTime,
	)
	if err != nil {
		logger.Warn("poll create rejected",
			"event", "poll_registry_create_rejected",
			"module", "governance/poll-registry",
			"layer", "application",
			"creator", cmd.Creator,
			"start_time", cmd.StartTime,
			"end_time", cmd.EndTime,
			"error", err.Error(),
		)
		if reserved {
			if releaseErr := uc.Idempotency.Release(ctx, key); releaseErr != nil {
				logger.Warn("poll create idempotency release failed",
					"event", "poll_registry_create_idempotency_release_failed",
					"module", "governance/poll-registry",
					"layer", "application",
					"error", releaseErr.Error(),
				)
			}
		}
		return CreatePollResult{}, err
	}

	uc.commit(ctx, pollID)

	if reserved {
		expiresAt := uc.now().Add(uc.resolveIdempotencyTTL())
		if err := uc.Idempotency.Complete(ctx, key, pollID, expiresAt); err != nil {
			// The pending reservation lapses on its own; a retry then creates again.
			logger.Warn("poll create idempotency completion failed",
				"event", "poll_registry_create_idempotency_complete_failed",
				"module", "governance/poll-registry",
				"layer", "application",
				"poll_id", pollID,
				"error", err.Error(),
			)
		}
	}

	logger.Info("poll created",
		"event", "poll_registry_poll_created",
		"module", "governance/poll-registry",
		"layer", "application",
		"poll_id", pollID,
		"creator", cmd.Creator,
		"start_time", cmd.StartTime,
		"end_time", cmd.EndTime,
	)
	return CreatePollResult{PollID: pollID}, nil
}

// reserveKey claims key for this request. When another request holds it,
// a matching completed record is replayed, a pending one is waited on until
// IdempotencyWait runs out, and a different payload is a conflict.
func (uc PollUseCase) reserveKey(ctx context.Context, key string, requestHash string) (CreatePollResult, bool, error) {
	deadline := time.Now().Add(uc.resolveIdempotencyWait())
	for {
		now := uc.now()
		existing, reserved, err := uc.Idempotency.Reserve(ctx, ports.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			ExpiresAt:   now.Add(pendingReservationTTL),
		}, now)
		if err != nil {
			return CreatePollResult{}, false, err
		}
		if reserved {
			return CreatePollResult{}, false, nil
		}
		if existing.Key != "" {
			if existing.RequestHash != requestHash {
				return CreatePollResult{}, false, domainerrors.ErrIdempotencyConflict
			}
			if existing.Completed {
				return CreatePollResult{PollID: existing.PollID, Replayed: true}, true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return CreatePollResult{}, false, domainerrors.ErrIdempotencyInProgress
		}
		select {
		case <-ctx.Done():
			return CreatePollResult{}, false, ctx.Err()
		case <-time.After(reservationPollDelay):
		}
	}
}

func (uc PollUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) error {
	logger := application.ResolveLogger(uc.Logger)
	cmd.WalletAddress = strings.TrimSpace(cmd.WalletAddress)
	if err := uc.Registry.Vote(cmd.PollID, cmd.WalletAddress, cmd.OptionIndex); err != nil {
		logger.Warn("vote rejected",
			"event", "poll_registry_vote_rejected",
			"module", "governance/poll-registry",
			"layer", "application",
			"poll_id", cmd.PollID,
			"wallet_address", cmd.WalletAddress,
			"option_index", cmd.OptionIndex,
			"error", err.Error(),
		)
		return err
	}

	uc.commit(ctx, cmd.PollID)

	logger.Info("vote recorded",
		"event", "poll_registry_vote_recorded",
		"module", "governance/poll-registry",
		"layer", "application",
		"poll_id", cmd.PollID,
		"wallet_address", cmd.WalletAddress,
		"option_index", cmd.OptionIndex,
	)
	return nil
}

// ClosePoll closes a poll for its creator or the registry owner. Repeated
// closes succeed without emitting another event.
func (uc PollUseCase) ClosePoll(ctx context.Context, cmd ClosePollCommand) error {
	logger := application.ResolveLogger(uc.Logger)
	cmd.Caller = strings.TrimSpace(cmd.Caller)
	closed, err := uc.Registry.TryClosePoll(cmd.PollID, cmd.Caller)
	if err != nil {
		if errors.Is(err, domainerrors.ErrUnauthorized) {
			logger.Warn("poll close unauthorized",
				"event", "poll_registry_close_unauthorized",
				"module", "governance/poll-registry",
				"layer", "application",
				"poll_id", cmd.PollID,
				"caller", cmd.Caller,
			)
		}
		return err
	}
	if !closed {
		logger.Debug("poll close replayed on closed poll",
			"event", "poll_registry_close_noop",
			"module", "governance/poll-registry",
			"layer", "application",
			"poll_id", cmd.PollID,
		)
		return nil
	}

	uc.commit(ctx, cmd.PollID)

	logger.Info("poll closed",
		"event", "poll_registry_poll_closed",
		"module", "governance/poll-registry",
		"layer", "application",
		"poll_id", cmd.PollID,
		"caller", cmd.Caller,
	)
	return nil
}

// commit persists the change just applied. Failures are logged by the
// committer and retried by the next commit, so the caller still succeeds.
func (uc PollUseCase) commit(ctx context.Context, pollID entities.PollID) {
	if _, err := uc.Commits.Commit(ctx); err != nil {
		application.ResolveLogger(uc.Logger).Warn("registry change persistence deferred",
			"event", "poll_registry_commit_deferred",
			"module", "governance/poll-registry",
			"layer", "application",
			"poll_id", pollID,
			"error", err.Error(),
		)
	}
}

func (uc PollUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc PollUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func (uc PollUseCase) resolveIdempotencyWait() time.Duration {
	if uc.IdempotencyWait <= 0 {
		return 2 * time.Second
	}
	return uc.IdempotencyWait
}

func hashCreatePollCommand(cmd CreatePollCommand) string {
	payload := map[string]any{
		"creator":     cmd.Creator,
		"title":       cmd.Title,
		"description": cmd.Description,
		"options":     cmd.Options,
		"start_time":  strconv.FormatInt(cmd.StartTime, 10),
		"end_time":    strconv.FormatInt(cmd.EndTime, 10),
		"op":          "create_poll",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
