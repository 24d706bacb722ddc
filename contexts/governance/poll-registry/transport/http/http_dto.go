package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreatePollRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
}

type CreatePollResponse struct {
	PollID   uint64 `json:"poll_id"`
	Replayed bool   `json:"replayed"`
}

type CastVoteRequest struct {
	OptionIndex *uint32 `json:"option_index"`
}

type PollResponse struct {
	PollID      uint64   `json:"poll_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	Creator     string   `json:"creator"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	Active      bool     `json:"active"`
	State       string   `json:"state"`
}

type ActivePollsResponse struct {
	PollIDs []uint64       `json:"poll_ids"`
	Items   []PollResponse `json:"items"`
}

// ResultsResponse carries counts keyed by option index.
type ResultsResponse struct {
	PollID     uint64            `json:"poll_id"`
	Counts     map[uint32]uint64 `json:"counts"`
	TotalVotes uint64            `json:"total_votes"`
}

type OptionResult struct {
	OptionIndex uint32  `json:"option_index"`
	Option      string  `json:"option"`
	Count       uint64  `json:"count"`
	Percentage  float64 `json:"percentage"`
}

type DetailedResultsResponse struct {
	PollID     uint64         `json:"poll_id"`
	TotalVotes uint64         `json:"total_votes"`
	Options    []OptionResult `json:"options"`
}

type HasVotedResponse struct {
	PollID        uint64 `json:"poll_id"`
	WalletAddress string `json:"wallet_address"`
	HasVoted      bool   `json:"has_voted"`
}

type ExpirePollsResponse struct {
	ClosedPollIDs []uint64 `json:"closed_poll_ids"`
}
