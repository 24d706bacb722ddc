package services

import (
	"errors"
	"testing"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	clock := newManualClock(150)
	registry := NewRegistry("owner", clock)
	first, _ := registry.CreatePoll("c1", "first", "d", []string{"a", "b"}, 100, 200)
	second, _ := registry.CreatePoll("c2", "second", "d", []string{"x", "y", "z"}, 100, 300)
	_ = registry.Vote(first, "w1", 1)
	_ = registry.Vote(second, "w1", 2)
	_ = registry.Vote(second, "w2", 2)
	_ = registry.ClosePoll(first, "c1")

	restored, err := Restore(registry.Snapshot(), clock)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Owner() != "owner" || restored.Revision() != registry.Revision() {
		t.Fatalf("restore lost owner or revision")
	}
	results, _ := restored.GetResults(second)
	if results.Counts[2] != 2 || results.TotalVotes != 2 || results.Counts[0] != 0 {
		t.Fatalf("restored tally mismatch: %+v", results)
	}
	if active := restored.GetActivePolls(); len(active) != 1 || active[0] != second {
		t.Fatalf("restored active polls mismatch: %v", active)
	}
	if err := restored.Vote(second, "w1", 0); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("restored vote record must reject repeat voter, got %v", err)
	}

	next, err := restored.CreatePoll("c3", "third", "d", []string{"a", "b"}, 100, 200)
	if err != nil {
		t.Fatalf("create after restore failed: %v", err)
	}
	if next != second+1 {
		t.Fatalf("restored registry must continue the id counter, got %d", next)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	registry := NewRegistry("owner", newManualClock(150))
	pollID, _ := registry.CreatePoll("c", "t", "d", []string{"a", "b"}, 100, 200)
	snapshot := registry.Snapshot()
	snapshot.Polls[0].Votes["intruder"] = 0
	snapshot.Polls[0].Poll.Options[0] = "changed"

	if voted, _ := registry.HasVoted(pollID, "intruder"); voted {
		t.Fatalf("snapshot must not alias vote records")
	}
	poll, _ := registry.GetPoll(pollID)
	if poll.Options[0] != "a" {
		t.Fatalf("snapshot must not alias options")
	}
}

func TestRestoreRejectsInvalidSnapshots(t *testing.T) {
	valid := entities.Poll{ID: 0, Options: []string{"a", "b"}, StartTime: 1, EndTime: 2, Active: true}

	cases := map[string]entities.RegistrySnapshot{
		"id beyond counter": {
			NextPollID: 0,
			Polls:      []entities.PollRecord{{Poll: valid}},
		},
		"duplicate id": {
			NextPollID: 1,
			Polls:      []entities.PollRecord{{Poll: valid}, {Poll: valid}},
		},
		"single option": {
			NextPollID: 1,
			Polls: []entities.PollRecord{{Poll: entities.Poll{
				ID: 0, Options: []string{"a"}, StartTime: 1, EndTime: 2,
			}}},
		},
		"empty window": {
			NextPollID: 1,
			Polls: []entities.PollRecord{{Poll: entities.Poll{
				ID: 0, Options: []string{"a", "b"}, StartTime: 2, EndTime: 2,
			}}},
		},
		"vote out of range": {
			NextPollID: 1,
			Polls:      []entities.PollRecord{{Poll: valid, Votes: map[string]uint32{"w": 7}}},
		},
	}
	for name, snapshot := range cases {
		if _, err := Restore(snapshot, nil); !errors.Is(err, domainerrors.ErrInvalidSnapshot) {
			t.Fatalf("%s: expected invalid snapshot, got %v", name, err)
		}
	}
}
