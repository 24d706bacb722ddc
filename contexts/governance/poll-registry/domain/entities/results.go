package entities

// VoteResults is the incrementally maintained tally of one poll.
type VoteResults struct {
	Counts     map[uint32]uint64
	TotalVotes uint64
}

// NewVoteResults returns results with a zero count for every option index.
func NewVoteResults(optionCount int) VoteResults {
	counts := make(map[uint32]uint64, optionCount)
	for i := 0; i < optionCount; i++ {
		counts[uint32(i)] = 0
	}
	return VoteResults{Counts: counts}
}

func (r VoteResults) Clone() VoteResults {
	counts := make(map[uint32]uint64, len(r.Counts))
	for index, count := range r.Counts {
		counts[index] = count
	}
	return VoteResults{Counts: counts, TotalVotes: r.TotalVotes}
}

func (r VoteResults) Sum() uint64 {
	var sum uint64
	for _, count := range r.Counts {
		sum += count
	}
	return sum
}

type OptionTally struct {
	Index      uint32
	Option     string
	Count      uint64
	Percentage float64
}

// DetailedResults lists one tally per option in option order.
type DetailedResults struct {
	PollID     PollID
	TotalVotes uint64
	Options    []OptionTally
}

// ByOption keys the tallies by option text. When two options share a label the
// later index wins.
func (d DetailedResults) ByOption() map[string]OptionTally {
	items := make(map[string]OptionTally, len(d.Options))
	for _, tally := range d.Options {
		items[tally.Option] = tally
	}
	return items
}

// BuildDetailedResults derives per-option percentages. Percentages are zero
// for every option when no vote has been cast.
func BuildDetailedResults(poll Poll, results VoteResults) DetailedResults {
	detailed := DetailedResults{
		PollID:     poll.ID,
		TotalVotes: results.TotalVotes,
		Options:    make([]OptionTally, 0, len(poll.Options)),
	}
	for i, option := range poll.Options {
		count := results.Counts[uint32(i)]
		percentage := 0.0
		if results.TotalVotes > 0 {
			percentage = float64(count) / float64(results.TotalVotes) * 100.0
		}
		detailed.Options = append(detailed.Options, OptionTally{
			Index:      uint32(i),
			Option:     option,
			Count:      count,
			Percentage: percentage,
		})
	}
	return detailed
}
