package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/catalog"
	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

// runtimeDependencies держит хранилища и справочник, выбранные конфигурацией.
type runtimeDependencies struct {
	orders      domain.OrderRepository
	outboxRepo  domain.OutboxRepository
	orderOutbox domain.OrderOutboxStore
	catalog     domain.CatalogService
	store       *postgres.Store
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
		return
	}
	logger.Info("postgres store closed")
}

// initRuntimeDependencies создаёт репозитории по StorageDriver и справочник по CatalogSource.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		mem := memory.NewStore()
		deps.orders = mem.Orders()
		deps.outboxRepo = mem.Outbox()
		deps.orderOutbox = mem
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires DSN")
		}
		policy := postgres.DefaultConnectPolicy()
		policy.Attempts = cfg.PostgresConnectAttempts
		if cfg.PostgresConnectMaxDelay > 0 {
			policy.MaxDelay = cfg.PostgresConnectMaxDelay
		}
		store, err := postgres.OpenWithRetry(ctx, cfg.PostgresDSN, policy, logger)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.store = store
		deps.orders = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.orderOutbox = postgres.NewOrderOutboxStore(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	source, err := initCatalog(cfg, deps.store, logger)
	if err != nil {
		deps.close(logger)
		return nil, err
	}
	deps.catalog = source
	return deps, nil
}

func initCatalog(cfg Config, store *postgres.Store, logger *log.Entry) (domain.CatalogService, error) {
	var source domain.CatalogService
	switch cfg.CatalogSource {
	case CatalogSourceStatic, "":
		source = catalog.DefaultStaticService()
	case CatalogSourcePostgres:
		if store == nil {
			return nil, fmt.Errorf("postgres catalog requires postgres storage")
		}
		source = postgres.NewCatalogRepository(store)
	default:
		return nil, fmt.Errorf("unsupported catalog source %q", cfg.CatalogSource)
	}

	if cfg.CatalogCacheSize > 0 {
		logger.WithFields(log.Fields{
			"size": cfg.CatalogCacheSize,
			"ttl":  cfg.CatalogCacheTTL,
		}).Info("catalog cache enabled")
		return catalog.NewCachedService(source, cfg.CatalogCacheSize, cfg.CatalogCacheTTL), nil
	}
	return source, nil
}
