package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"archvote/contexts/governance/poll-registry/adapters/memory"
	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type countingStore struct {
	*memory.Store
	err   error
	saves []entities.RegistryDelta
}

func (s *countingStore) SaveChanges(ctx context.Context, delta entities.RegistryDelta, events []ports.EventEnvelope) error {
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, delta)
	return s.Store.SaveChanges(ctx, delta, events)
}

func TestCommitWritesJournalInRevisionOrder(t *testing.T) {
	ctx := context.Background()
	registry := services.NewRegistry("owner", fixedClock{now: time.Unix(150, 0).UTC()})
	store := &countingStore{Store: memory.NewStore()}
	committer := NewCommitter(registry, store, store.Store, nil)

	pollID, _ := registry.CreatePoll("alice", "Lunch", "", []string{"a", "b"}, 100, 200)
	_ = registry.Vote(pollID, "bob", 1)
	_ = registry.ClosePoll(pollID, "alice")

	written, err := committer.Commit(ctx)
	if err != nil || written != 3 {
		t.Fatalf("commit: written=%d err=%v", written, err)
	}
	if len(store.saves) != 1 || len(store.saves[0].Polls) != 1 || len(store.saves[0].Votes) != 1 {
		t.Fatalf("expected one delta with one poll and one vote, got %+v", store.saves)
	}

	pending, _ := store.ListPendingOutbox(ctx, 10)
	want := []string{"poll.created", "vote.cast", "poll.closed"}
	if len(pending) != len(want) {
		t.Fatalf("expected %v, got %+v", want, pending)
	}
	for i, row := range pending {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if envelope.EventType != want[i] || envelope.PartitionKey != "0" || envelope.SchemaVersion != 1 {
			t.Fatalf("unexpected envelope %d: %+v", i, envelope)
		}
		var data map[string]any
		_ = json.Unmarshal(envelope.Data, &data)
		if data["revision"] != float64(i+1) {
			t.Fatalf("expected revision %d in payload, got %+v", i+1, data)
		}
		if want[i] == "poll.closed" && (data["reason"] != "closed_by_caller" || data["closed_by"] != "alice") {
			t.Fatalf("unexpected close payload: %+v", data)
		}
		if want[i] == "poll.created" && data["title"] != "Lunch" {
			t.Fatalf("unexpected create payload: %+v", data)
		}
	}

	if written, _ := committer.Commit(ctx); written != 0 || len(store.saves) != 1 {
		t.Fatalf("nothing pending must mean no write, got written=%d saves=%d", written, len(store.saves))
	}
}

func TestFailedCommitKeepsChangesPending(t *testing.T) {
	ctx := context.Background()
	registry := services.NewRegistry("owner", fixedClock{now: time.Unix(150, 0).UTC()})
	store := &countingStore{Store: memory.NewStore(), err: errors.New("disk full")}
	committer := NewCommitter(registry, store, store.Store, nil)

	pollID, _ := registry.CreatePoll("alice", "t", "", []string{"a", "b"}, 100, 200)
	if _, err := committer.Commit(ctx); err == nil {
		t.Fatalf("expected store failure")
	}
	_ = registry.Vote(pollID, "bob", 0)

	store.err = nil
	written, err := committer.Commit(ctx)
	if err != nil || written != 2 {
		t.Fatalf("expected both changes on retry, written=%d err=%v", written, err)
	}
	snapshot, _, _ := store.LoadSnapshot(ctx)
	if snapshot.Revision != 2 || snapshot.Polls[0].Votes["bob"] != 0 || len(snapshot.Polls[0].Votes) != 1 {
		t.Fatalf("unexpected stored snapshot: %+v", snapshot)
	}
}

func TestCommitWithoutIDGeneratorIsRejected(t *testing.T) {
	ctx := context.Background()
	registry := services.NewRegistry("owner", fixedClock{now: time.Unix(150, 0).UTC()})
	committer := NewCommitter(registry, memory.NewStore(), nil, nil)
	_, _ = registry.CreatePoll("alice", "t", "", []string{"a", "b"}, 100, 200)

	if _, err := committer.Commit(ctx); !errors.Is(err, ErrIDGeneratorRequired) {
		t.Fatalf("expected id generator error, got %v", err)
	}
	if _, pending := registry.PendingChanges(); !pending {
		t.Fatalf("changes must stay pending")
	}
}

func TestCommitWithoutStoreIsNoop(t *testing.T) {
	registry := services.NewRegistry("owner", nil)
	committer := NewCommitter(registry, nil, nil, nil)
	_, _ = registry.CreatePoll("alice", "t", "", []string{"a", "b"}, 100, 200)
	if written, err := committer.Commit(context.Background()); written != 0 || err != nil {
		t.Fatalf("expected no-op, got written=%d err=%v", written, err)
	}
	if _, pending := registry.PendingChanges(); pending {
		t.Fatalf("registry without a store must not journal")
	}

	var missing *Committer
	if _, err := missing.Commit(context.Background()); err != nil {
		t.Fatalf("nil committer must be a no-op: %v", err)
	}
}
