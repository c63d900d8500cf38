// Package app assembles the scheduling core from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/locking"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	"github.com/hackgods/clinic-scheduling/internal/query"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type App struct {
	Slots        *slot.Registry
	Bookings     *booking.Manager
	Query        *query.Layer
	Dependencies []api.Dependency

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type storage struct {
	tx       db.Transactor
	slots    slot.Repository
	bookings booking.Repository
	patients booking.Patients
}

// Build connects the configured store and lock backends and wires the
// registry, manager and query layer on top of them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{}

	st, err := a.connectStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.connectLocker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.NewScheduling(reg)
	a.Slots = slot.NewRegistry(st.slots, st.tx, locker, logger.Named("slots"), m)
	a.Bookings = booking.NewManager(booking.Deps{
		Repo:     st.bookings,
		Ledger:   a.Slots,
		Patients: st.patients,
		Tx:       st.tx,
		Locker:   locker,
		Logger:   logger.Named("bookings"),
		Metrics:  m,
	})
	a.Query = query.NewLayer(a.Slots, a.Bookings)
	return a, nil
}

func (a *App) connectStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage, error) {
	if cfg.StoreBackend == config.StoreMemory {
		store := memstore.New()
		a.Dependencies = append(a.Dependencies, api.Dependency{Name: "memory", Critical: true, Ping: store.Ping})
		logger.Warn("using in-memory store, data is lost on exit")
		return storage{
			tx:       store,
			slots:    store.Slots(),
			bookings: store.Bookings(),
			patients: store.Patients(),
		}, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	if err != nil {
		return storage{}, fmt.Errorf("postgres connection: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	a.Dependencies = append(a.Dependencies, api.Dependency{Name: "postgres", Critical: true, Ping: pool.Ping})
	logger.Info("connected to Postgres")

	return storage{
		tx:       db.NewPgTransactor(pool),
		slots:    slot.NewPgRepository(pool),
		bookings: booking.NewPgRepository(pool),
		patients: patient.NewPgRepository(pool),
	}, nil
}

func (a *App) connectLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (locking.Locker, error) {
	if cfg.LockBackend == config.LockLocal {
		logger.Info("using in-process entity locks")
		return locking.NewLocal(), nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	})
	a.Dependencies = append(a.Dependencies, api.Dependency{
		Name: "redis",
		Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	return redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait), nil
}
