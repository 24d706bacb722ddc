package services

import (
	"fmt"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
)

// Snapshot captures the registry state for persistence. Polls are ordered by
// id and share no memory with the registry.
func (r *Registry) Snapshot() entities.RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := entities.RegistrySnapshot{
		Owner:      r.owner,
		NextPollID: r.nextID,
		Revision:   r.revision,
		Polls:      make([]entities.PollRecord, 0, len(r.polls)),
	}
	for _, id := range r.sortedIDs() {
		votes := make(map[string]uint32, len(r.votes[id]))
		for wallet, option := range r.votes[id] {
			votes[wallet] = option
		}
		snapshot.Polls = append(snapshot.Polls, entities.PollRecord{
			Poll:  r.polls[id].Clone(),
			Votes: votes,
		})
	}
	return snapshot
}

// Restore rebuilds a registry from a snapshot. Tallies are recomputed from the
// vote records; stored counts are never trusted.
func Restore(snapshot entities.RegistrySnapshot, clock Clock) (*Registry, error) {
	registry := NewRegistry(snapshot.Owner, clock)
	registry.nextID = snapshot.NextPollID
	registry.revision = snapshot.Revision

	for _, record := range snapshot.Polls {
		poll := record.Poll.Clone()
		if poll.ID >= snapshot.NextPollID {
			return nil, fmt.Errorf("%w: poll %d is not below next id %d", domainerrors.ErrInvalidSnapshot, poll.ID, snapshot.NextPollID)
		}
		if _, exists := registry.polls[poll.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate poll %d", domainerrors.ErrInvalidSnapshot, poll.ID)
		}
		if len(poll.Options) < 2 {
			return nil, fmt.Errorf("%w: poll %d has fewer than two options", domainerrors.ErrInvalidSnapshot, poll.ID)
		}
		if poll.StartTime >= poll.EndTime {
			return nil, fmt.Errorf("%w: poll %d has an empty time range", domainerrors.ErrInvalidSnapshot, poll.ID)
		}

		votes := make(map[string]uint32, len(record.Votes))
		results := entities.NewVoteResults(len(poll.Options))
		for wallet, option := range record.Votes {
			if !poll.ValidOption(option) {
				return nil, fmt.Errorf("%w: poll %d has a vote for option %d", domainerrors.ErrInvalidSnapshot, poll.ID, option)
			}
			votes[wallet] = option
			results.Counts[option]++
			results.TotalVotes++
		}

		registry.polls[poll.ID] = &poll
		registry.votes[poll.ID] = votes
		registry.results[poll.ID] = &results
	}
	return registry, nil
}
