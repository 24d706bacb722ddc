package services

import (
	"sort"
	"sync"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
)

// Clock supplies the current time of the host environment.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Registry is the authoritative store of polls, vote records and tallies.
// Every mutation runs under one write lock and validates before it mutates,
// so a failed call leaves no trace and readers never see a half-applied vote.
type Registry struct {
	mu sync.RWMutex

	owner    string
	clock    Clock
	nextID   entities.PollID
	revision uint64

	polls   map[entities.PollID]*entities.Poll
	votes   map[entities.PollID]map[string]uint32
	results map[entities.PollID]*entities.VoteResults

	tracking bool
	journal  []entities.Change
}

// NewRegistry builds an empty registry administered by owner. A nil clock
// falls back to the system clock.
func NewRegistry(owner string, clock Clock) *Registry {
	if clock == nil {
		clock = systemClock{}
	}
	return &Registry{
		owner:   owner,
		clock:   clock,
		polls:   make(map[entities.PollID]*entities.Poll),
		votes:   make(map[entities.PollID]map[string]uint32),
		results: make(map[entities.PollID]*entities.VoteResults),
	}
}

func (r *Registry) Owner() string {
	return r.owner
}

// Revision increases by one for every mutation that changed state.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

func (r *Registry) CreatePoll(
	creator string,
	title string,
	description string,
	options []string,
	startTime int64,
	endTime int64,
) (entities.PollID, error) {
	if len(options) < 2 {
		return 0, domainerrors.ErrInvalidOption
	}
	if startTime >= endTime {
		return 0, domainerrors.ErrInvalidTimeRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.polls[id] = &entities.Poll{
		ID:          id,
		Title:       title,
		Description: description,
		Options:     append([]string(nil), options...),
		Creator:     creator,
		StartTime:   startTime,
		EndTime:     endTime,
		Active:      true,
	}
	r.votes[id] = make(map[string]uint32)
	results := entities.NewVoteResults(len(options))
	r.results[id] = &results
	r.revision++
	r.record(entities.Change{Kind: entities.ChangePollCreated, PollID: id, At: r.now()})
	return id, nil
}

// Vote records one vote. The wall-clock window is checked on its own because
// the expiry sweep may not have flipped Active yet: a poll past its end time
// is AlreadyEnded, one before its start time is NotActive.
func (r *Registry) Vote(pollID entities.PollID, walletAddress string, optionIndex uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	poll, ok := r.polls[pollID]
	if !ok {
		return domainerrors.ErrPollNotFound
	}
	if !poll.Active {
		return domainerrors.ErrPollNotActive
	}
	now := r.now()
	if !poll.InWindow(now) {
		if poll.HasEnded(now) {
			return domainerrors.ErrPollAlreadyEnded
		}
		return domainerrors.ErrPollNotActive
	}
	if !poll.ValidOption(optionIndex) {
		return domainerrors.ErrInvalidOption
	}
	record := r.votes[pollID]
	if _, voted := record[walletAddress]; voted {
		return domainerrors.ErrAlreadyVoted
	}

	record[walletAddress] = optionIndex
	results := r.results[pollID]
	results.Counts[optionIndex]++
	results.TotalVotes++
	r.revision++
	r.record(entities.Change{
		Kind:   entities.ChangeVoteCast,
		PollID: pollID,
		Vote:   entities.VoteRow{PollID: pollID, WalletAddress: walletAddress, OptionIndex: optionIndex},
		At:     now,
	})
	return nil
}

func (r *Registry) GetPoll(pollID entities.PollID) (entities.Poll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll.Clone(), nil
}

func (r *Registry) GetResults(pollID entities.PollID) (entities.VoteResults, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results, ok := r.results[pollID]
	if !ok {
		return entities.VoteResults{}, domainerrors.ErrPollNotFound
	}
	return results.Clone(), nil
}

func (r *Registry) GetDetailedResults(pollID entities.PollID) (entities.DetailedResults, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return entities.DetailedResults{}, domainerrors.ErrPollNotFound
	}
	return entities.BuildDetailedResults(*poll, *r.results[pollID]), nil
}

// ClosePoll deactivates a poll on behalf of its creator or the registry
// owner. Closing a closed poll is a no-op.
func (r *Registry) ClosePoll(pollID entities.PollID, caller string) error {
	_, err := r.TryClosePoll(pollID, caller)
	return err
}

// TryClosePoll is ClosePoll reporting whether this call flipped the poll
// from active to closed.
func (r *Registry) TryClosePoll(pollID entities.PollID, caller string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if !poll.CanClose(caller, r.owner) {
		return false, domainerrors.ErrUnauthorized
	}
	if !poll.Active {
		return false, nil
	}
	poll.Active = false
	r.revision++
	r.record(entities.Change{Kind: entities.ChangePollClosed, PollID: pollID, ClosedBy: caller, At: r.now()})
	return true, nil
}

// ProcessExpiredPolls closes every active poll whose end time has passed.
func (r *Registry) ProcessExpiredPolls() {
	_ = r.SweepExpiredPolls()
}

// SweepExpiredPolls is ProcessExpiredPolls returning the ids it closed, in
// ascending order.
func (r *Registry) SweepExpiredPolls() []entities.PollID {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var closed []entities.PollID
	for _, id := range r.sortedIDs() {
		poll := r.polls[id]
		if poll.Active && poll.HasEnded(now) {
			poll.Active = false
			closed = append(closed, id)
		}
	}
	if len(closed) > 0 {
		r.revision++
	}
	for _, id := range closed {
		r.record(entities.Change{Kind: entities.ChangePollClosed, PollID: id, At: now})
	}
	return closed
}

// GetActivePolls lists polls whose Active flag is still set, including ones
// past their end time that have not been swept yet.
func (r *Registry) GetActivePolls() []entities.PollID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]entities.PollID, 0, len(r.polls))
	for _, id := range r.sortedIDs() {
		if r.polls[id].Active {
			active = append(active, id)
		}
	}
	return active
}

func (r *Registry) HasVoted(pollID entities.PollID, walletAddress string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.votes[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	_, voted := record[walletAddress]
	return voted, nil
}

func (r *Registry) now() int64 {
	return r.clock.Now().Unix()
}

func (r *Registry) sortedIDs() []entities.PollID {
	ids := make([]entities.PollID, 0, len(r.polls))
	for id := range r.polls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
