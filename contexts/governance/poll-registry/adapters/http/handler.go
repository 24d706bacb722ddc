package httpadapter

import (
	"context"
	"log/slog"

	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/application/commands"
	"archvote/contexts/governance/poll-registry/application/queries"
	"archvote/contexts/governance/poll-registry/application/workers"
	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	httptransport "archvote/contexts/governance/poll-registry/transport/http"
)

type Handler struct {
	Polls   commands.PollUseCase
	Queries queries.PollQueries
	Sweeper workers.ExpirySweeper
	Logger  *slog.Logger
}

// CreatePollHandler godoc
// @Summary Create a poll
// @Description Opens a poll with at least two options and a voting window [start_time, end_time).
// @Tags poll-registry
// @Accept json
// @Produce json
// @Param X-Wallet-Address header string true "Caller wallet address"
// @Param Idempotency-Key header string false "Replay-safe request key"
// @Param request body httptransport.CreatePollRequest true "Poll definition"
// @Success 201 {object} httptransport.CreatePollResponse
// @Success 200 {object} httptransport.CreatePollResponse "Replayed request"
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/polls [post]
func (h Handler) CreatePollHandler(
	ctx context.Context,
	creator string,
	idempotencyKey string,
	req httptransport.CreatePollRequest,
) (httptransport.CreatePollResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	logger.Info("create poll request received",
		"event", "http_create_poll_received",
		"module", "governance/poll-registry",
		"layer", "transport",
		"creator", creator,
		"replay_key_present", idempotencyKey != "",
	)
	result, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		Creator:        creator,
		IdempotencyKey: idempotencyKey,
		Title:          req.Title,
		Description:    req.Description,
		Options:        req.Options,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
	})
	if err != nil {
		return httptransport.CreatePollResponse{}, err
	}
	return httptransport.CreatePollResponse{
		PollID:   result.PollID,
		Replayed: result.Replayed,
	}, nil
}

// CastVoteHandler godoc
// @Summary Cast a vote
// @Tags poll-registry
// @Accept json
// @Produce json
// @Param X-Wallet-Address header string true "Voter wallet address"
// @Param poll_id path int true "Poll id"
// @Param request body httptransport.CastVoteRequest true "Chosen option"
// @Success 204
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/votes [post]
func (h Handler) CastVoteHandler(
	ctx context.Context,
	pollID entities.PollID,
	walletAddress string,
	req httptransport.CastVoteRequest,
) error {
	if req.OptionIndex == nil {
		return domainerrors.ErrInvalidOption
	}
	return h.Polls.CastVote(ctx, commands.CastVoteCommand{
		PollID:        pollID,
		WalletAddress: walletAddress,
		OptionIndex:   *req.OptionIndex,
	})
}

// ClosePollHandler godoc
// @Summary Close a poll
// @Description Allowed for the poll creator and the registry owner.
// @Tags poll-registry
// @Produce json
// @Param X-Wallet-Address header string true "Caller wallet address"
// @Param poll_id path int true "Poll id"
// @Success 204
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/close [post]
func (h Handler) ClosePollHandler(ctx context.Context, pollID entities.PollID, caller string) error {
	return h.Polls.ClosePoll(ctx, commands.ClosePollCommand{
		PollID: pollID,
		Caller: caller,
	})
}

// GetPollHandler godoc
// @Summary Get a poll
// @Tags poll-registry
// @Produce json
// @Param poll_id path int true "Poll id"
// @Success 200 {object} httptransport.PollResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id} [get]
func (h Handler) GetPollHandler(_ context.Context, pollID entities.PollID) (httptransport.PollResponse, error) {
	poll, err := h.Queries.GetPoll(pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

// ActivePollsHandler godoc
// @Summary List active polls
// @Description Polls past their end time stay listed until the next expiry sweep.
// @Tags poll-registry
// @Produce json
// @Success 200 {object} httptransport.ActivePollsResponse
// @Router /v1/polls/active [get]
func (h Handler) ActivePollsHandler(_ context.Context) httptransport.ActivePollsResponse {
	polls := h.Queries.ActivePolls()
	resp := httptransport.ActivePollsResponse{
		PollIDs: make([]uint64, 0, len(polls)),
		Items:   make([]httptransport.PollResponse, 0, len(polls)),
	}
	for _, poll := range polls {
		resp.PollIDs = append(resp.PollIDs, poll.ID)
		resp.Items = append(resp.Items, mapPoll(poll))
	}
	return resp
}

// ResultsHandler godoc
// @Summary Get vote counts
// @Tags poll-registry
// @Produce json
// @Param poll_id path int true "Poll id"
// @Success 200 {object} httptransport.ResultsResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/results [get]
func (h Handler) ResultsHandler(_ context.Context, pollID entities.PollID) (httptransport.ResultsResponse, error) {
	results, err := h.Queries.GetResults(pollID)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return httptransport.ResultsResponse{
		PollID:     pollID,
		Counts:     results.Counts,
		TotalVotes: results.TotalVotes,
	}, nil
}

// DetailedResultsHandler godoc
// @Summary Get per-option results with percentages
// @Tags poll-registry
// @Produce json
// @Param poll_id path int true "Poll id"
// @Success 200 {object} httptransport.DetailedResultsResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/results/detailed [get]
func (h Handler) DetailedResultsHandler(_ context.Context, pollID entities.PollID) (httptransport.DetailedResultsResponse, error) {
	detailed, err := h.Queries.GetDetailedResults(pollID)
	if err != nil {
		return httptransport.DetailedResultsResponse{}, err
	}
	resp := httptransport.DetailedResultsResponse{
		PollID:     detailed.PollID,
		TotalVotes: detailed.TotalVotes,
		Options:    make([]httptransport.OptionResult, 0, len(detailed.Options)),
	}
	for _, tally := range detailed.Options {
		resp.Options = append(resp.Options, httptransport.OptionResult{
			OptionIndex: tally.Index,
			Option:      tally.Option,
			Count:       tally.Count,
			Percentage:  tally.Percentage,
		})
	}
	return resp, nil
}

// HasVotedHandler godoc
// @Summary Check whether a wallet voted
// @Tags poll-registry
// @Produce json
// @Param poll_id path int true "Poll id"
// @Param wallet_address path string true "Wallet address"
// @Success 200 {object} httptransport.HasVotedResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/polls/{poll_id}/voters/{wallet_address} [get]
func (h Handler) HasVotedHandler(
	_ context.Context,
	pollID entities.PollID,
	walletAddress string,
) (httptransport.HasVotedResponse, error) {
	voted, err := h.Queries.HasVoted(pollID, walletAddress)
	if err != nil {
		return httptransport.HasVotedResponse{}, err
	}
	return httptransport.HasVotedResponse{
		PollID:        pollID,
		WalletAddress: walletAddress,
		HasVoted:      voted,
	}, nil
}

// ExpirePollsHandler godoc
// @Summary Close every poll whose end time has passed
// @Description Runs one expiry sweep on demand. Anyone may trigger it.
// @Tags poll-registry
// @Produce json
// @Success 200 {object} httptransport.ExpirePollsResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/polls/expire [post]
func (h Handler) ExpirePollsHandler(ctx context.Context) (httptransport.ExpirePollsResponse, error) {
	closed, err := h.Sweeper.Sweep(ctx)
	resp := httptransport.ExpirePollsResponse{ClosedPollIDs: make([]uint64, 0, len(closed))}
	resp.ClosedPollIDs = append(resp.ClosedPollIDs, closed...)
	return resp, err
}

func mapPoll(poll entities.Poll) httptransport.PollResponse {
	return httptransport.PollResponse{
		PollID:      poll.ID,
		Title:       poll.Title,
		Description: poll.Description,
		Options:     poll.Options,
		Creator:     poll.Creator,
		StartTime:   poll.StartTime,
		EndTime:     poll.EndTime,
		Active:      poll.Active,
		State:       string(poll.State()),
	}
}
