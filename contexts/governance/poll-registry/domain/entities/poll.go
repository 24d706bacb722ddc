package entities

// PollID identifies a poll inside one registry. Identifiers are assigned from
// a strictly increasing counter and never reused.
type PollID = uint64

// PollState is the lifecycle state derived from the Active flag.
type PollState string

const (
	PollStateActive PollState = "active"
	PollStateClosed PollState = "closed"
)

type Poll struct {
	ID          PollID
	Title       string
	Description string
	Options     []string
	Creator     string
	StartTime   int64
	EndTime     int64
	Active      bool
}

func (p Poll) State() PollState {
	if p.Active {
		return PollStateActive
	}
	return PollStateClosed
}

// InWindow reports whether now falls inside [StartTime, EndTime).
func (p Poll) InWindow(now int64) bool {
	return now >= p.StartTime && now < p.EndTime
}

// HasEnded reports whether the wall-clock window is over, regardless of the
// Active flag.
func (p Poll) HasEnded(now int64) bool {
	return now >= p.EndTime
}

func (p Poll) ValidOption(index uint32) bool {
	return int(index) < len(p.Options)
}

// Clone returns a copy that shares no slices with the receiver.
func (p Poll) Clone() Poll {
	out := p
	out.Options = append([]string(nil), p.Options...)
	return out
}

// CanClose is the creator-or-owner capability check.
func (p Poll) CanClose(caller string, owner string) bool {
	return caller == p.Creator || caller == owner
}
