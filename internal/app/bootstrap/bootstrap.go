package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pollregistry "archvote/contexts/governance/poll-registry"
	"archvote/contexts/governance/poll-registry/adapters/memory"
	postgresadapter "archvote/contexts/governance/poll-registry/adapters/postgres"
	sqliteadapter "archvote/contexts/governance/poll-registry/adapters/sqlite"
	systemadapter "archvote/contexts/governance/poll-registry/adapters/system"
	application "archvote/contexts/governance/poll-registry/application"
	"archvote/contexts/governance/poll-registry/application/workers"
	"archvote/contexts/governance/poll-registry/domain/services"
	"archvote/contexts/governance/poll-registry/ports"
	"archvote/internal/platform/config"
	"archvote/internal/platform/db"
	"archvote/internal/platform/httpserver"
	"archvote/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const (
	pollEventsTopic        = "poll-registry.events"
	pollAuditConsumerGroup = "poll-registry-audit-cg"
)

type APIApp struct {
	server  *httpserver.Server
	storage   *storage
	sweeper   workers.ExpirySweeper
	committer *application.Committer
	// relay is only set for the memory driver, whose outbox lives in this
	// process and cannot be drained by the worker.
	relay         *workers.OutboxRelay
	bus           *messaging.Kafka
	sweepEnabled  bool
	sweepInterval time.Duration
	relayInterval time.Duration
	logger        *slog.Logger
}

type WorkerApp struct {
	storage      *storage
	bus          *messaging.Kafka
	outboxRelay  workers.OutboxRelay
	pollInterval time.Duration
	logger       *slog.Logger
}

// storage bundles the ports one storage driver satisfies.
type storage struct {
	driver      string
	snapshots   ports.SnapshotStore
	idempotency ports.IdempotencyStore
	pending     ports.OutboxRepository
	clock       ports.Clock
	ids         ports.IDGenerator
	close       func() error
}

func BuildAPI(ctx context.Context) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := restoreRegistry(ctx, store, cfg.RegistryOwner, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	module := pollregistry.NewModule(pollregistry.Dependencies{
		Registry:        registry,
		Snapshots:       store.snapshots,
		Idempotency:     store.idempotency,
		Clock:           store.clock,
		IDGen:           store.ids,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		IdempotencyWait: cfg.IdempotencyWait,
		Logger:          logger,
	})

	app := &APIApp{
		server:        httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort)),
		storage:       store,
		sweeper:       module.Sweeper,
		committer:     module.Committer,
		sweepEnabled:  cfg.EnableExpirySweeper,
		sweepInterval: cfg.ExpirySweepInterval,
		relayInterval: cfg.OutboxRelayInterval,
		logger:        logger,
	}

	if store.driver == config.StorageMemory && cfg.EnableOutboxRelay {
		bus, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
		if err != nil {
			_ = store.close()
			return nil, err
		}
		app.bus = bus
		app.relay = &workers.OutboxRelay{
			Outbox:    store.pending,
			Publisher: bus,
			Clock:     store.clock,
			Topic:     pollEventsTopic,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		}
	}
	return app, nil
}

func BuildWorker(ctx context.Context) (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if cfg.StorageDriver == config.StorageMemory {
		return nil, errors.New("worker requires STORAGE_DRIVER postgres or sqlite")
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	return &WorkerApp{
		storage: store,
		bus:     kafka,
		outboxRelay: workers.OutboxRelay{
			Outbox:    store.pending,
			Publisher: kafka,
			Clock:     store.clock,
			Topic:     pollEventsTopic,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		pollInterval: cfg.OutboxRelayInterval,
		logger:       logger,
	}, nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pg, err := db.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		repo := postgresadapter.NewRepository(pg.DB, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return &storage{
			driver:      cfg.StorageDriver,
			snapshots:   repo,
			idempotency: repo,
			pending:     repo,
			clock:       systemadapter.Clock{},
			ids:         systemadapter.UUIDGenerator{},
			close:       pg.Close,
		}, nil
	case config.StorageSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := sqliteadapter.NewStore(conn, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &storage{
			driver:      cfg.StorageDriver,
			snapshots:   store,
			idempotency: store,
			pending:     store,
			clock:       systemadapter.Clock{},
			ids:         systemadapter.UUIDGenerator{},
			close:       conn.Close,
		}, nil
	default:
		store := memory.NewStore()
		return &storage{
			driver:      config.StorageMemory,
			snapshots:   store,
			idempotency: store,
			pending:     store,
			clock:       store,
			ids:         store,
			close:       func() error { return nil },
		}, nil
	}
}

// restoreRegistry rebuilds the registry from the last saved snapshot. The
// persisted owner is kept even when REGISTRY_OWNER changed since.
func restoreRegistry(
	ctx context.Context,
	store *storage,
	owner string,
	logger *slog.Logger,
) (*services.Registry, error) {
	snapshot, found, err := store.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Info("poll registry initialised",
			"event", "bootstrap_registry_initialised",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"storage_driver", store.driver,
			"owner", owner,
		)
		return services.NewRegistry(owner, store.clock), nil
	}

	registry, err := services.Restore(snapshot, store.clock)
	if err != nil {
		return nil, fmt.Errorf("restore poll registry: %w", err)
	}
	if registry.Owner() != owner {
		logger.Warn("registry owner differs from configuration",
			"event", "bootstrap_registry_owner_mismatch",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"persisted_owner", registry.Owner(),
			"configured_owner", owner,
		)
	}
	logger.Info("poll registry restored",
		"event", "bootstrap_registry_restored",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"storage_driver", store.driver,
		"revision", snapshot.Revision,
		"poll_count", len(snapshot.Polls),
	)
	return registry, nil
}

// Run serves HTTP until ctx is cancelled, then shuts the server down.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"expiry_sweeper", a.sweepEnabled,
		"in_process_relay", a.relay != nil,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.sweepEnabled {
		go runEvery(loopCtx, a.sweepInterval, a.sweeper.RunOnce)
	} else {
		go runEvery(loopCtx, a.sweepInterval, a.commitPending)
	}
	if a.relay != nil {
		if err := subscribeAuditLog(loopCtx, a.bus, a.logger); err != nil {
			return err
		}
		go runEvery(loopCtx, a.relayInterval, a.relay.RunOnce)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	_ = a.commitPending(shutdownCtx)
	return <-errCh
}

// commitPending flushes registry changes an earlier commit could not write.
func (a *APIApp) commitPending(ctx context.Context) error {
	_, err := a.committer.Commit(ctx)
	return err
}

func (a *APIApp) Close() error {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.storage != nil {
		return a.storage.close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := subscribeAuditLog(ctx, w.bus, w.logger); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.outboxRelay.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("outbox relay cycle failed",
				"event", "bootstrap_worker_relay_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.bus != nil {
		_ = w.bus.Close()
	}
	if w.storage != nil {
		return w.storage.close()
	}
	return nil
}

// subscribeAuditLog attaches a consumer that logs every relayed registry event.
func subscribeAuditLog(ctx context.Context, bus *messaging.Kafka, logger *slog.Logger) error {
	return bus.Subscribe(ctx, pollEventsTopic, pollAuditConsumerGroup,
		func(_ context.Context, event ports.EventEnvelope) error {
			logger.Info("poll registry event relayed",
				"event", "poll_registry_event_relayed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"poll_id", event.PartitionKey,
			)
			return nil
		})
}

// runEvery calls fn immediately and then on every tick. Failures are logged
// by fn itself; the loop keeps going.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
