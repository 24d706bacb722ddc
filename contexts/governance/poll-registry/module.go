package pollregistry

import (
	"log/slog"
	"time"

	httpadapter "archvote/contexts/governance/poll-registry/adapters/http"
	"archvote/contexts/governance/poll-registry/adapters/memory"
	systemadapter "archvote/contexts/governance/poll-registry/adapters/system"
	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/application/commands"
	"archvote/contexts/governance/poll-registry/application/queries"
	"archvote/contexts/governance/poll-registry/application/workers"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Registry  *services.Registry
	Committer *application.Committer
	Sweeper   workers.ExpirySweeper
	Store     *memory.Store
}

type Dependencies struct {
	Registry        *services.Registry
	Snapshots       ports.SnapshotStore
	Idempotency     ports.IdempotencyStore
	Clock           ports.Clock
	IDGen           ports.IDGenerator
	IdempotencyTTL  time.Duration
	IdempotencyWait time.Duration
	Logger          *slog.Logger
}

// NewModule wires one registry into the command, query and sweep paths.
// The registry must already hold the restored state. A nil Clock or IDGen
// falls back to the system clock and UUIDs.
func NewModule(deps Dependencies) Module {
	if deps.Clock == nil {
		deps.Clock = systemadapter.Clock{}
	}
	if deps.IDGen == nil {
		deps.IDGen = systemadapter.UUIDGenerator{}
	}
	committer := application.NewCommitter(deps.Registry, deps.Snapshots, deps.IDGen, deps.Logger)
	pollUseCase := commands.PollUseCase{
		Registry:        deps.Registry,
		Commits:         committer,
		Idempotency:     deps.Idempotency,
		Clock:           deps.Clock,
		IdempotencyTTL:  deps.IdempotencyTTL,
		IdempotencyWait: deps.IdempotencyWait,
		Logger:          deps.Logger,
	}
	sweeper := workers.ExpirySweeper{
		Registry: deps.Registry,
		Commits:  committer,
		Logger:   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:   pollUseCase,
			Queries: queries.PollQueries{Registry: deps.Registry},
			Sweeper: sweeper,
			Logger:  deps.Logger,
		},
		Registry:  deps.Registry,
		Committer: committer,
		Sweeper:   sweeper,
	}
}

// NewInMemoryModule builds a fresh registry owned by owner, backed by the
// in-memory store. The registry and store share the given clock when set.
func NewInMemoryModule(owner string, clock ports.Clock, logger *slog.Logger) Module {
	store := memory.NewStore()
	if clock == nil {
		clock = store
	}
	module := NewModule(Dependencies{
		Registry:       services.NewRegistry(owner, clock),
		Snapshots:      store,
		Idempotency:    store,
		Clock:          clock,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
