package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"archvote/contexts/governance/poll-registry/adapters/memory"
	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

type stubPublisher struct {
	failOn    string
	published []ports.EventEnvelope
}

func (p *stubPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if topic != event.EventType {
		return errors.New("topic mismatch")
	}
	if event.EventID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func TestExpirySweeperClosesEndedPolls(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Unix(150, 0).UTC()}
	store := memory.NewStore()
	registry := services.NewRegistry("owner", clock)
	sweeper := ExpirySweeper{Registry: registry, Commits: application.NewCommitter(registry, store, store, nil)}
	first, _ := registry.CreatePoll("alice", "short", "", []string{"a", "b"}, 100, 200)
	second, _ := registry.CreatePoll("alice", "long", "", []string{"a", "b"}, 100, 400)

	closed, err := sweeper.Sweep(ctx)
	if err != nil || len(closed) != 0 {
		t.Fatalf("sweep before any end time: closed=%v err=%v", closed, err)
	}
	if pending, _ := store.ListPendingOutbox(ctx, 10); len(pending) != 2 {
		t.Fatalf("sweep must flush the pending creates, got %d events", len(pending))
	}

	clock.now = time.Unix(200, 0).UTC()
	if err := sweeper.RunOnce(ctx); err != nil {
		t.Fatalf("sweep at end time: %v", err)
	}

	active := registry.GetActivePolls()
	if len(active) != 1 || active[0] != second {
		t.Fatalf("expected only poll %d active, got %v", second, active)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 3 || pending[2].EventType != "poll.closed" {
		t.Fatalf("expected one poll.closed event after the creates, got %+v", pending)
	}
	var envelope ports.EventEnvelope
	_ = json.Unmarshal(pending[2].Payload, &envelope)
	var data map[string]any
	_ = json.Unmarshal(envelope.Data, &data)
	if data["reason"] != "expired" || data["poll_id"] != float64(first) || data["closed_by"] != "" {
		t.Fatalf("unexpected expiry payload: %+v", data)
	}
	if !envelope.OccurredAt.Equal(clock.now) {
		t.Fatalf("expected close time %v, got %v", clock.now, envelope.OccurredAt)
	}

	snapshot, found, _ := store.LoadSnapshot(ctx)
	if !found || snapshot.Polls[first].Poll.Active || !snapshot.Polls[second].Poll.Active {
		t.Fatalf("sweep must persist the closed poll, got %+v", snapshot.Polls)
	}
	if err := sweeper.RunOnce(ctx); err != nil {
		t.Fatalf("repeated sweep: %v", err)
	}
	if pending, _ := store.ListPendingOutbox(ctx, 10); len(pending) != 3 {
		t.Fatalf("repeated sweep must not emit again, got %d", len(pending))
	}
}

func TestExpirySweeperWithoutStore(t *testing.T) {
	clock := &fixedClock{now: time.Unix(250, 0).UTC()}
	registry := services.NewRegistry("owner", clock)
	pollID, _ := registry.CreatePoll("alice", "t", "", []string{"a", "b"}, 100, 200)

	closed, err := ExpirySweeper{Registry: registry}.Sweep(context.Background())
	if err != nil || len(closed) != 1 || closed[0] != pollID {
		t.Fatalf("expected poll %d closed, got %v err=%v", pollID, closed, err)
	}
}

func TestOutboxRelayStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()
	store := memory.NewStore()
	events := make([]ports.EventEnvelope, 0, 3)
	for _, id := range []string{"e1", "e2", "e3"} {
		events = append(events, ports.EventEnvelope{EventID: id, EventType: "vote.cast", OccurredAt: at})
	}
	_ = store.SaveChanges(ctx, entities.RegistryDelta{Revision: 1}, events)

	publisher := &stubPublisher{failOn: "e2"}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, Clock: &fixedClock{now: at}, BatchSize: 10}
	if err := relay.RunOnce(ctx); err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	if len(publisher.published) != 1 || publisher.published[0].EventID != "e1" {
		t.Fatalf("expected only e1 published, got %+v", publisher.published)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].OutboxID != "e2" {
		t.Fatalf("failed row must stay pending at the head, got %+v", pending)
	}

	publisher.failOn = ""
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(publisher.published) != 3 || publisher.published[2].EventID != "e3" {
		t.Fatalf("expected e2 and e3 relayed in order, got %+v", publisher.published)
	}
	if pending, _ := store.ListPendingOutbox(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d rows", len(pending))
	}
}
