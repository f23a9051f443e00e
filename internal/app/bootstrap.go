package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/customers"
	"github.com/odyssey-erp/fabric-depot/internal/depot"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/observability"
	"github.com/odyssey-erp/fabric-depot/internal/platform/cache"
	"github.com/odyssey-erp/fabric-depot/internal/platform/db"
	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/platform/lock"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Runtime bundles the wired components shared by the binaries.
type Runtime struct {
	Config    *Config
	Logger    *slog.Logger
	Locale    shared.Locale
	Store     kvstore.Store
	Redis     *redis.Client
	Pool      *pgxpool.Pool
	Catalog   *catalog.Store
	Rolls     *rolls.Store
	Customers *customers.Directory
	Ledger    *ledger.Ledger
	Metrics   *observability.Metrics
	Depot     *depot.Orchestrator
}

// Open connects the configured store driver and wires the depot components.
// The redis and postgres drivers both share reversal locks through Redis;
// the memory driver keeps everything in-process.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	locale, err := shared.ParseLocale(cfg.Locale)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Locale: locale}

	var locker lock.Locker
	switch cfg.StoreDriver {
	case DriverMemory:
		rt.Store = kvstore.NewMemory()
		locker = lock.NewLocal()
	case DriverRedis, DriverPostgres:
		rt.Redis, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		locker = lock.NewRedis(rt.Redis, cfg.LockTTL)
		if cfg.StoreDriver == DriverRedis {
			rt.Store = kvstore.NewRedis(rt.Redis, kvstore.RedisOptions{Namespace: cfg.StoreNamespace, MaxRetries: cfg.StoreMaxRetries})
			break
		}
		rt.Pool, err = db.New(ctx, cfg.PGDSN, 0)
		if err != nil {
			rt.Close()
			return nil, err
		}
		pg := kvstore.NewPostgres(rt.Pool, cfg.StoreNamespace)
		if err := pg.EnsureSchema(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("app: ensure schema: %w", err)
		}
		rt.Store = pg
	default:
		return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}

	rt.Catalog = catalog.NewStore(rt.Store)
	rt.Rolls = rolls.NewStore(rt.Store, locale, logger)
	rt.Customers = customers.NewDirectory(rt.Store, locale)
	rt.Ledger = ledger.New(rt.Store)
	rt.Metrics = observability.NewMetrics()
	rt.Depot, err = depot.New(depot.Deps{
		Rolls:     rt.Rolls,
		Customers: rt.Customers,
		Ledger:    rt.Ledger,
		Catalog:   rt.Catalog,
		Locker:    locker,
		Metrics:   rt.Metrics,
		Locale:    locale,
		Logger:    logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	logger.Debug("depot runtime ready", slog.String("driver", cfg.StoreDriver), slog.String("locale", locale.Tag().String()))
	return rt, nil
}

// Close releases connections opened by Open.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
}
