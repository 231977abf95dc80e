package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/backfill"
	"github.com/motodesk/backoffice/internal/catalog"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/observability"
	"github.com/motodesk/backoffice/internal/platform/cache"
	"github.com/motodesk/backoffice/internal/platform/db"
	"github.com/motodesk/backoffice/internal/reconcile"
	"github.com/motodesk/backoffice/internal/resolver"
	"github.com/motodesk/backoffice/internal/sales"
	"github.com/motodesk/backoffice/internal/shared"
	"github.com/motodesk/backoffice/internal/store"
	"github.com/motodesk/backoffice/internal/store/memory"
	pgstore "github.com/motodesk/backoffice/internal/store/postgres"
)

// Services is the wired object graph shared by the server, worker and CLI.
type Services struct {
	Config     *Config
	Logger     *slog.Logger
	Store      store.Store
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *observability.Metrics
	Catalog    *catalog.Service
	Engine     *allocation.Engine
	Allocation *allocation.Service
	Sales      *sales.Service
	Importer   *backfill.Importer
	Auditor    *reconcile.Auditor
	ImportKeys *shared.IdempotencyStore

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (s *Services) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Ping reports whether the database and redis answer. The memory driver is always ready.
func (s *Services) Ping(ctx context.Context) error {
	if s.Pool != nil {
		if err := s.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// BuildServices connects the configured store and redis and wires every service.
// The memory driver runs without redis and keeps idempotency keys in process.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Services{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	var (
		locker allocation.Locker
		audit  sales.AuditPort
		keys   backfill.KeyStore
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		mem := memory.New()
		svc.Store = mem
		keys = mem
		logger.Warn("using in-memory store; data is lost on exit")
	default:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		svc.Pool = pool
		svc.closers = append(svc.closers, pool.Close)

		pg := pgstore.New(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries})
		if cfg.PGMigrate {
			if err := pg.Migrate(ctx); err != nil {
				svc.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema applied")
		}
		svc.Store = pg
		svc.ImportKeys = shared.NewIdempotencyStore(pool)
		keys = svc.ImportKeys
		audit = shared.NewAuditLogger(pool)

		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Redis = client
		svc.closers = append(svc.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		locker = cache.NewLocker(client, cfg.UnitLockTTL)
	}

	res, err := resolver.New(resolver.DefaultCatalog(), cfg.ResolverThreshold)
	if err != nil {
		svc.Close()
		return nil, err
	}
	mode, err := allocation.ParseMode(cfg.AllocationMode)
	if err != nil {
		svc.Close()
		return nil, err
	}
	policy, err := sales.ParseTotalPolicy(cfg.SaleTotalPolicy)
	if err != nil {
		svc.Close()
		return nil, err
	}

	svc.Catalog = catalog.NewService(res)
	svc.Engine = allocation.NewEngine(inventory.NewLedger(logger), logger, allocation.EngineConfig{
		Mode:     mode,
		Policy:   allocation.Policy{AllowCrossBranchDuplicateIdentity: cfg.AllowCrossBranchDuplicates},
		Recorder: svc.Metrics.Allocations(),
	})
	svc.Sales = sales.NewService(svc.Store, svc.Catalog, svc.Engine, logger, sales.ServiceConfig{
		Locker:      locker,
		Audit:       audit,
		TotalPolicy: policy,
	})
	svc.Allocation = allocation.NewService(svc.Store, svc.Engine)
	svc.Importer = backfill.NewImporter(svc.Sales, svc.Store, svc.Catalog, svc.Allocation, keys, logger)
	svc.Auditor = reconcile.NewAuditor(svc.Store, logger)
	return svc, nil
}
