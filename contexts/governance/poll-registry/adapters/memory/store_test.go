package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/ports"
)

func TestSnapshotKeepsNewestRevision(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, found, _ := store.LoadSnapshot(ctx); found {
		t.Fatalf("new store must not report a snapshot")
	}

	newer := entities.RegistrySnapshot{Owner: "owner", NextPollID: 2, Revision: 7}
	older := entities.RegistrySnapshot{Owner: "owner", NextPollID: 1, Revision: 6}
	if err := store.SaveSnapshot(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if err := store.SaveSnapshot(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	loaded, found, err := store.LoadSnapshot(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if loaded.Revision != 7 || loaded.NextPollID != 2 {
		t.Fatalf("older revision must not replace newer, got %+v", loaded)
	}
}

func TestSnapshotIsStoredDetached(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	snapshot := entities.RegistrySnapshot{
		Revision: 1,
		Polls: []entities.PollRecord{{
			Poll:  entities.Poll{ID: 0, Options: []string{"a", "b"}},
			Votes: map[string]uint32{"w": 1},
		}},
	}
	_ = store.SaveSnapshot(ctx, snapshot)
	snapshot.Polls[0].Votes["other"] = 0
	snapshot.Polls[0].Poll.Options[0] = "z"

	loaded, _, _ := store.LoadSnapshot(ctx)
	if len(loaded.Polls[0].Votes) != 1 || loaded.Polls[0].Poll.Options[0] != "a" {
		t.Fatalf("stored snapshot aliases caller memory: %+v", loaded.Polls[0])
	}
}

func TestSaveChangesMergesDelta(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	poll := entities.Poll{ID: 0, Options: []string{"a", "b"}, StartTime: 1, EndTime: 2, Active: true}
	other := entities.Poll{ID: 1, Options: []string{"a", "b"}, StartTime: 1, EndTime: 2, Active: true}
	_ = store.SaveSnapshot(ctx, entities.RegistrySnapshot{
		Owner:      "owner",
		NextPollID: 2,
		Revision:   3,
		Polls: []entities.PollRecord{
			{Poll: poll, Votes: map[string]uint32{"w1": 0}},
			{Poll: other, Votes: map[string]uint32{}},
		},
	})

	closed := poll
	closed.Active = false
	delta := entities.RegistryDelta{
		Owner:      "owner",
		NextPollID: 2,
		Revision:   5,
		Polls:      []entities.Poll{closed},
		Votes:      []entities.VoteRow{{PollID: 0, WalletAddress: "w2", OptionIndex: 1}},
	}
	events := []ports.EventEnvelope{{EventID: "e1", EventType: "vote.cast"}, {EventID: "e2", EventType: "poll.closed"}}
	if err := store.SaveChanges(ctx, delta, events); err != nil {
		t.Fatalf("save changes: %v", err)
	}

	loaded, _, _ := store.LoadSnapshot(ctx)
	if loaded.Revision != 5 || len(loaded.Polls) != 2 {
		t.Fatalf("unexpected snapshot after delta: %+v", loaded)
	}
	if loaded.Polls[0].Poll.Active || len(loaded.Polls[0].Votes) != 2 || loaded.Polls[0].Votes["w2"] != 1 {
		t.Fatalf("delta not merged into poll 0: %+v", loaded.Polls[0])
	}
	if !loaded.Polls[1].Poll.Active {
		t.Fatalf("untouched poll must keep its state: %+v", loaded.Polls[1])
	}

	stale := delta
	stale.Revision = 4
	stale.Votes = []entities.VoteRow{{PollID: 1, WalletAddress: "w9", OptionIndex: 0}}
	if err := store.SaveChanges(ctx, stale, []ports.EventEnvelope{{EventID: "e3"}}); err != nil {
		t.Fatalf("stale save: %v", err)
	}
	loaded, _, _ = store.LoadSnapshot(ctx)
	if len(loaded.Polls[1].Votes) != 0 {
		t.Fatalf("stale delta must be ignored, got %+v", loaded.Polls[1])
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].OutboxID != "e1" || pending[1].OutboxID != "e2" {
		t.Fatalf("expected only the accepted events in order, got %+v", pending)
	}

	orphan := entities.RegistryDelta{Revision: 6, Votes: []entities.VoteRow{{PollID: 9, WalletAddress: "w"}}}
	if err := store.SaveChanges(ctx, orphan, nil); !errors.Is(err, domainerrors.ErrInvalidSnapshot) {
		t.Fatalf("expected invalid snapshot for unknown poll, got %v", err)
	}
}

func TestIdempotencyReservation(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := ports.IdempotencyRecord{Key: " k ", RequestHash: "h", ExpiresAt: now.Add(time.Minute)}

	if _, reserved, err := store.Reserve(ctx, record, now); err != nil || !reserved {
		t.Fatalf("first reserve: reserved=%v err=%v", reserved, err)
	}
	existing, reserved, err := store.Reserve(ctx, ports.IdempotencyRecord{Key: "k", RequestHash: "other", ExpiresAt: now.Add(time.Minute)}, now)
	if err != nil || reserved {
		t.Fatalf("second reserve must lose: reserved=%v err=%v", reserved, err)
	}
	if existing.RequestHash != "h" || existing.Completed {
		t.Fatalf("expected pending record for h, got %+v", existing)
	}

	if err := store.Complete(ctx, "k", 3, now.Add(time.Hour)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_ = store.Release(ctx, "k")
	existing, _, _ = store.Reserve(ctx, record, now)
	if !existing.Completed || existing.PollID != 3 {
		t.Fatalf("release must keep completed records, got %+v", existing)
	}

	if _, reserved, _ := store.Reserve(ctx, record, now.Add(time.Minute)); reserved {
		t.Fatalf("complete must extend the expiry")
	}
	if _, reserved, _ := store.Reserve(ctx, record, now.Add(time.Hour)); !reserved {
		t.Fatalf("expired record must be reclaimable")
	}
	if _, _, err := store.Reserve(ctx, ports.IdempotencyRecord{Key: "  "}, now); !errors.Is(err, domainerrors.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
}

func TestReleaseFreesPendingKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := ports.IdempotencyRecord{Key: "k", RequestHash: "h", ExpiresAt: now.Add(time.Minute)}
	_, _, _ = store.Reserve(ctx, record, now)
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, reserved, _ := store.Reserve(ctx, record, now); !reserved {
		t.Fatalf("released key must be reservable again")
	}
}

func TestOutboxAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for revision, id := range []string{"3", "1", "2"} {
		delta := entities.RegistryDelta{Revision: uint64(revision + 1)}
		if err := store.SaveChanges(ctx, delta, []ports.EventEnvelope{{EventID: id, EventType: "vote.cast", OccurredAt: at}}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	repeat := entities.RegistryDelta{Revision: 4}
	if err := store.SaveChanges(ctx, repeat, []ports.EventEnvelope{{EventID: "1", EventType: "vote.cast", OccurredAt: at}}); err != nil {
		t.Fatalf("repeated event id must be idempotent: %v", err)
	}

	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 3 || pending[0].OutboxID != "3" || pending[1].OutboxID != "1" || pending[2].OutboxID != "2" {
		t.Fatalf("expected append order, got %+v", pending)
	}
	if err := store.MarkOutboxPublished(ctx, "3", at); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, _ = store.ListPendingOutbox(ctx, 1)
	if len(pending) != 1 || pending[0].OutboxID != "1" {
		t.Fatalf("unexpected pending after ack: %+v", pending)
	}
}
