package entities

import "sort"

// ChangeKind names a registry mutation. The values double as event types.
type ChangeKind string

const (
	ChangePollCreated ChangeKind = "poll.created"
	ChangeVoteCast    ChangeKind = "vote.cast"
	ChangePollClosed  ChangeKind = "poll.closed"
)

// VoteRow is one persisted vote record entry.
type VoteRow struct {
	PollID        PollID
	WalletAddress string
	OptionIndex   uint32
}

// Change is one journaled mutation. ClosedBy is empty when the expiry sweep
// closed the poll.
type Change struct {
	Revision uint64
	Kind     ChangeKind
	PollID   PollID
	Vote     VoteRow
	ClosedBy string
	At       int64
}

// RegistryDelta is the part of a registry that changed since the last
// persisted revision: the current state of every touched poll, the vote rows
// added and the journal entries that produced them.
type RegistryDelta struct {
	Owner      string
	NextPollID PollID
	Revision   uint64
	Polls      []Poll
	Votes      []VoteRow
	Changes    []Change
}

func (d RegistryDelta) Empty() bool {
	return len(d.Polls) == 0 && len(d.Votes) == 0 && len(d.Changes) == 0
}

// Delta expresses a whole snapshot as a delta that touches every poll and
// every vote. It carries no journal entries.
func (s RegistrySnapshot) Delta() RegistryDelta {
	delta := RegistryDelta{
		Owner:      s.Owner,
		NextPollID: s.NextPollID,
		Revision:   s.Revision,
		Polls:      make([]Poll, 0, len(s.Polls)),
	}
	for _, record := range s.Polls {
		delta.Polls = append(delta.Polls, record.Poll.Clone())
		wallets := make([]string, 0, len(record.Votes))
		for wallet := range record.Votes {
			wallets = append(wallets, wallet)
		}
		sort.Strings(wallets)
		for _, wallet := range wallets {
			delta.Votes = append(delta.Votes, VoteRow{
				PollID:        record.Poll.ID,
				WalletAddress: wallet,
				OptionIndex:   record.Votes[wallet],
			})
		}
	}
	return delta
}
