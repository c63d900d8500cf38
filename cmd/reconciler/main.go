package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// The reconciler compares every slot's booked count with its capacity
// consuming bookings and reports drift. It never rewrites counts.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.StoreBackend == config.StoreMemory {
		logger.Fatal("the reconciler needs a shared store, STORE_BACKEND=memory has nothing to check")
	}

	logger.Info("reconciler starting up", zap.Duration("interval", cfg.ReconcileInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconciling takes no entity locks.
	cfg.LockBackend = config.LockLocal

	a, err := app.Build(rootCtx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("wiring failed", zap.Error(err))
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, logger, a.Bookings)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reconciler")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, a.Bookings)
		}
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, m *booking.Manager) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	drift, err := m.Reconcile(runCtx)
	if err != nil {
		logger.Error("reconcile run error", zap.Error(err))
		return
	}
	logger.Info("reconcile run complete",
		zap.Int("drifted_slots", len(drift)),
		zap.Duration("took", time.Since(start)),
	)
}
