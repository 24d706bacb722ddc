package commands

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"archvote/contexts/governance/poll-registry/adapters/memory"
	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/domain/entities"
	domainerrors "archvote/contexts/governance/poll-registry/domain/errors"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0).UTC()
}

// flakyStore fails SaveChanges while failing is set.
type flakyStore struct {
	*memory.Store
	mu      sync.Mutex
	failing bool
}

func (s *flakyStore) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *flakyStore) SaveChanges(ctx context.Context, delta entities.RegistryDelta, events []ports.EventEnvelope) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return s.Store.SaveChanges(ctx, delta, events)
}

// slowReservations adds a round trip to every Reserve call.
type slowReservations struct {
	*memory.Store
	delay time.Duration
}

func (s slowReservations) Reserve(ctx context.Context, record ports.IdempotencyRecord, now time.Time) (ports.IdempotencyRecord, bool, error) {
	time.Sleep(s.delay)
	return s.Store.Reserve(ctx, record, now)
}

func newUseCaseWith(clock *testClock, snapshots ports.SnapshotStore, store *memory.Store) PollUseCase {
	registry := services.NewRegistry("owner", clock)
	return PollUseCase{
		Registry:    registry,
		Commits:     application.NewCommitter(registry, snapshots, store, nil),
		Idempotency: store,
		Clock:       clock,
	}
}

func newUseCase(clock *testClock) (PollUseCase, *memory.Store) {
	store := memory.NewStore()
	return newUseCaseWith(clock, store, store), store
}

func pendingTypes(t *testing.T, store *memory.Store) []string {
	t.Helper()
	pending, err := store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	types := make([]string, 0, len(pending))
	for _, row := range pending {
		types = append(types, row.EventType)
	}
	return types
}

func TestPollLifecycleEmitsEventsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, store := newUseCase(clock)

	created, err := uc.CreatePoll(ctx, CreatePollCommand{
		Creator: "alice", Title: "Lunch", Options: []string{"tacos", "ramen"}, StartTime: 100, EndTime: 200,
	})
	if err != nil || created.PollID != 0 || created.Replayed {
		t.Fatalf("create poll: %+v err=%v", created, err)
	}
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: 0, WalletAddress: "bob", OptionIndex: 1}); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if err := uc.ClosePoll(ctx, ClosePollCommand{PollID: 0, Caller: "alice"}); err != nil {
		t.Fatalf("close poll: %v", err)
	}
	if err := uc.ClosePoll(ctx, ClosePollCommand{PollID: 0, Caller: "owner"}); err != nil {
		t.Fatalf("repeated close must succeed: %v", err)
	}

	types := pendingTypes(t, store)
	want := []string{"poll.created", "vote.cast", "poll.closed"}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}

	snapshot, found, _ := store.LoadSnapshot(ctx)
	if !found || snapshot.Revision != uc.Registry.Revision() {
		t.Fatalf("snapshot must track the latest revision, got %d want %d", snapshot.Revision, uc.Registry.Revision())
	}
	if snapshot.Polls[0].Poll.Active || snapshot.Polls[0].Votes["bob"] != 1 {
		t.Fatalf("unexpected persisted poll: %+v", snapshot.Polls[0])
	}
}

func TestVoteEventPayload(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, store := newUseCase(clock)
	_, _ = uc.CreatePoll(ctx, CreatePollCommand{Creator: "alice", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200})
	_ = uc.CastVote(ctx, CastVoteCommand{PollID: 0, WalletAddress: "bob", OptionIndex: 1})

	pending, _ := store.ListPendingOutbox(ctx, 10)
	var envelope ports.EventEnvelope
	if err := json.Unmarshal(pending[1].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.PartitionKey != "0" || envelope.SourceService != "poll-registry" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	var data map[string]any
	_ = json.Unmarshal(envelope.Data, &data)
	if data["wallet_address"] != "bob" || data["option_index"] != float64(1) {
		t.Fatalf("unexpected vote payload: %+v", data)
	}
}

func TestRejectedMutationsEmitNothing(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, store := newUseCase(clock)
	_, _ = uc.CreatePoll(ctx, CreatePollCommand{Creator: "alice", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200})

	if _, err := uc.CreatePoll(ctx, CreatePollCommand{Creator: "alice", Options: []string{"a"}, StartTime: 100, EndTime: 200}); !errors.Is(err, domainerrors.ErrInvalidOption) {
		t.Fatalf("expected invalid option, got %v", err)
	}
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: 0, WalletAddress: "bob", OptionIndex: 5}); !errors.Is(err, domainerrors.ErrInvalidOption) {
		t.Fatalf("expected invalid option, got %v", err)
	}
	if err := uc.ClosePoll(ctx, ClosePollCommand{PollID: 0, Caller: "mallory"}); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if types := pendingTypes(t, store); len(types) != 1 {
		t.Fatalf("rejected commands must not append events, got %v", types)
	}
}

func TestCreatePollIdempotency(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, store := newUseCase(clock)
	cmd := CreatePollCommand{
		Creator: "alice", IdempotencyKey: "req-1", Title: "t", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200,
	}

	first, err := uc.CreatePoll(ctx, cmd)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	replay, err := uc.CreatePoll(ctx, cmd)
	if err != nil || !replay.Replayed || replay.PollID != first.PollID {
		t.Fatalf("expected replay of poll %d, got %+v err=%v", first.PollID, replay, err)
	}
	cmd.Title = "different"
	if _, err := uc.CreatePoll(ctx, cmd); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
	if ids := uc.Registry.GetActivePolls(); len(ids) != 1 {
		t.Fatalf("replay must not create another poll, got %v", ids)
	}
	if types := pendingTypes(t, store); len(types) != 1 {
		t.Fatalf("replay must not emit another event, got %v", types)
	}
}

func TestPersistenceFailureDoesNotFailTheOperation(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	store := &flakyStore{Store: memory.NewStore()}
	uc := newUseCaseWith(clock, store, store.Store)

	created, err := uc.CreatePoll(ctx, CreatePollCommand{Creator: "alice", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}

	store.setFailing(true)
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: created.PollID, WalletAddress: "bob", OptionIndex: 1}); err != nil {
		t.Fatalf("vote must succeed while the store is down: %v", err)
	}
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: created.PollID, WalletAddress: "bob", OptionIndex: 0}); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("retry by the same wallet must report already voted, got %v", err)
	}
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: created.PollID, WalletAddress: "carol", OptionIndex: 0}); err != nil {
		t.Fatalf("other wallets keep voting: %v", err)
	}
	if types := pendingTypes(t, store.Store); len(types) != 1 {
		t.Fatalf("nothing may be appended while the store is down, got %v", types)
	}
	snapshot, _, _ := store.LoadSnapshot(ctx)
	if len(snapshot.Polls[0].Votes) != 0 {
		t.Fatalf("failed commits must not be stored, got %+v", snapshot.Polls[0].Votes)
	}

	store.setFailing(false)
	if err := uc.ClosePoll(ctx, ClosePollCommand{PollID: created.PollID, Caller: "alice"}); err != nil {
		t.Fatalf("close poll: %v", err)
	}
	types := pendingTypes(t, store.Store)
	want := []string{"poll.created", "vote.cast", "vote.cast", "poll.closed"}
	if len(types) != len(want) {
		t.Fatalf("expected deferred events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected deferred events %v, got %v", want, types)
		}
	}
	snapshot, _, _ = store.LoadSnapshot(ctx)
	if snapshot.Revision != uc.Registry.Revision() || len(snapshot.Polls[0].Votes) != 2 || snapshot.Polls[0].Poll.Active {
		t.Fatalf("expected the recovered store to catch up, got %+v", snapshot)
	}
}

func TestConcurrentCreatesWithOneKeyCreateOnePoll(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	store := memory.NewStore()
	uc := newUseCaseWith(clock, store, store)
	uc.Idempotency = slowReservations{Store: store, delay: 5 * time.Millisecond}
	cmd := CreatePollCommand{
		Creator: "alice", IdempotencyKey: "req-1", Title: "t", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200,
	}

	var wg sync.WaitGroup
	results := make([]CreatePollResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = uc.CreatePoll(ctx, cmd)
		}(i)
	}
	wg.Wait()

	replayed := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("create %d failed: %v", i, errs[i])
		}
		if results[i].PollID != results[0].PollID {
			t.Fatalf("expected one poll id for one key, got %+v", results)
		}
		if results[i].Replayed {
			replayed++
		}
	}
	if replayed != len(results)-1 {
		t.Fatalf("expected all but one create to replay, got %d replays", replayed)
	}
	if ids := uc.Registry.GetActivePolls(); len(ids) != 1 {
		t.Fatalf("polls created for one key=%d", len(ids))
	}
	if types := pendingTypes(t, store); len(types) != 1 || types[0] != "poll.created" {
		t.Fatalf("expected a single poll.created, got %v", types)
	}
}

func TestCreateWaitsOutPendingReservation(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, store := newUseCase(clock)
	uc.IdempotencyWait = 50 * time.Millisecond
	cmd := CreatePollCommand{Creator: "alice", IdempotencyKey: "req-1", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200}

	_, _, _ = store.Reserve(ctx, ports.IdempotencyRecord{
		Key:         "req-1",
		RequestHash: hashCreatePollCommand(cmd),
		ExpiresAt:   clock.Now().Add(time.Minute),
	}, clock.Now())

	if _, err := uc.CreatePoll(ctx, cmd); !errors.Is(err, domainerrors.ErrIdempotencyInProgress) {
		t.Fatalf("expected in-progress error, got %v", err)
	}
	if ids := uc.Registry.GetActivePolls(); len(ids) != 0 {
		t.Fatalf("pending key must block the create, got %v", ids)
	}
}

func TestRejectedCreateReleasesKey(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	uc, _ := newUseCase(clock)
	cmd := CreatePollCommand{Creator: "alice", IdempotencyKey: "req-1", Options: []string{"a", "b"}, StartTime: 200, EndTime: 100}

	if _, err := uc.CreatePoll(ctx, cmd); !errors.Is(err, domainerrors.ErrInvalidTimeRange) {
		t.Fatalf("expected invalid time range, got %v", err)
	}
	if _, err := uc.CreatePoll(ctx, cmd); !errors.Is(err, domainerrors.ErrInvalidTimeRange) {
		t.Fatalf("rejected create must free its key, got %v", err)
	}
}

func TestMissingIDGeneratorDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(150)
	store := memory.NewStore()
	registry := services.NewRegistry("owner", clock)
	uc := PollUseCase{
		Registry: registry,
		Commits:  application.NewCommitter(registry, store, nil, nil),
		Clock:    clock,
	}

	created, err := uc.CreatePoll(ctx, CreatePollCommand{Creator: "alice", Options: []string{"a", "b"}, StartTime: 100, EndTime: 200})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if err := uc.CastVote(ctx, CastVoteCommand{PollID: created.PollID, WalletAddress: "bob", OptionIndex: 0}); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if _, pending := registry.PendingChanges(); !pending {
		t.Fatalf("changes must stay pending until an id generator is configured")
	}
	if types := pendingTypes(t, store); len(types) != 0 {
		t.Fatalf("expected no events without ids, got %v", types)
	}
}
