package entities

// PollRecord is a poll together with its vote record, as persisted.
type PollRecord struct {
	Poll  Poll
	Votes map[string]uint32
}

// RegistrySnapshot is the load/save boundary of a registry. Tallies are not
// part of it; they are rebuilt from the vote records on restore.
type RegistrySnapshot struct {
	Owner      string
	NextPollID PollID
	Revision   uint64
	Polls      []PollRecord
}

func (s RegistrySnapshot) Clone() RegistrySnapshot {
	clone := s
	clone.Polls = make([]PollRecord, 0, len(s.Polls))
	for _, record := range s.Polls {
		votes := make(map[string]uint32, len(record.Votes))
		for wallet, option := range record.Votes {
			votes[wallet] = option
		}
		clone.Polls = append(clone.Polls, PollRecord{Poll: record.Poll.Clone(), Votes: votes})
	}
	return clone
}
