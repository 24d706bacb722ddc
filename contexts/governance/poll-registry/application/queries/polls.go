package queries

import (
	"strings"

	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/domain/services"
)

type PollQueries struct {
	Registry *services.Registry
}

func (q PollQueries) GetPoll(pollID entities.PollID) (entities.Poll, error) {
	return q.Registry.GetPoll(pollID)
}

func (q PollQueries) GetResults(pollID entities.PollID) (entities.VoteResults, error) {
	return q.Registry.GetResults(pollID)
}

func (q PollQueries) GetDetailedResults(pollID entities.PollID) (entities.DetailedResults, error) {
	return q.Registry.GetDetailedResults(pollID)
}

// ActivePolls resolves the active id list into poll records. A poll closed
// between the two reads is skipped.
func (q PollQueries) ActivePolls() []entities.Poll {
	ids := q.Registry.GetActivePolls()
	polls := make([]entities.Poll, 0, len(ids))
	for _, id := range ids {
		poll, err := q.Registry.GetPoll(id)
		if err != nil || !poll.Active {
			continue
		}
		polls = append(polls, poll)
	}
	return polls
}

func (q PollQueries) GetActivePolls() []entities.PollID {
	return q.Registry.GetActivePolls()
}

func (q PollQueries) HasVoted(pollID entities.PollID, walletAddress string) (bool, error) {
	return q.Registry.HasVoted(pollID, strings.TrimSpace(walletAddress))
}
