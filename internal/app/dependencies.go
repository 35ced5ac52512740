package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shoporder/internal/health"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/memory"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/postgres"
)

// runtimeDependencies хранит хранилище и репозитории, выбранные по StorageDriver.
type runtimeDependencies struct {
	txm             domain.TxManager
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.New().WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout))
		if cfg.SeedDemo {
			store.SeedDemo()
			logger.Info("memory storage seeded with demo data")
		}
		return &runtimeDependencies{
			txm:             store,
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLockTimeout(cfg.LockTimeout),
			postgres.WithLogger(logger.WithField("component", "postgres-store")),
		)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("postgres storage initialized")
		return &runtimeDependencies{
			txm:             store,
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// outboxBacklog адаптирует OutboxRepository.Stats к health.BacklogStats.
func outboxBacklog(repo domain.OutboxRepository) healthcheck.BacklogStats {
	return func(ctx context.Context) (int, time.Time, error) {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return 0, time.Time{}, err
		}
		return stats.PendingCount, stats.OldestPendingAt, nil
	}
}
