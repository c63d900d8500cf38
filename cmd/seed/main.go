package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/locking"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	patientCount = 2000
	slotDays     = 14
	batchSize    = 500
)

var locations = []string{
	"Room A",
	"Room B",
	"Room C",
	"Dermatology Suite",
	"Cardiology Lab",
	"Pediatrics Wing",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreBackend != config.StorePostgres {
		log.Fatalf("seed needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	tx := db.NewPgTransactor(pool)

	if err := seedPatients(context.Background(), logger, tx, patient.NewPgRepository(pool), patientCount); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	registry := slot.NewRegistry(slot.NewPgRepository(pool), tx, locking.NewLocal(), logger.Named("slots"), nil)
	if err := seedSlots(context.Background(), logger, registry, slotDays); err != nil {
		logger.Fatal("seed slots", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedPatients(ctx context.Context, logger *zap.Logger, tx db.Transactor, repo *patient.PgRepository, count int) error {
	logger.Info("seeding patients", zap.Int("count", count))

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := tx.WithinTx(ctx, func(ctx context.Context) error {
			for i := offset; i < end; i++ {
				now := time.Now().UTC()
				email := gofakeit.Email()
				_, err := repo.Insert(ctx, patient.Patient{
					ID:        uuid.New(),
					Name:      gofakeit.Name(),
					Email:     &email,
					CreatedAt: now,
					UpdatedAt: now,
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

// seedSlots lays out a working day per location for the coming days.
// Random block lengths keep the layout uneven; blocks never overlap
// because each starts where the previous one ended.
func seedSlots(ctx context.Context, logger *zap.Logger, registry *slot.Registry, days int) error {
	admin := session.Actor{ID: uuid.New(), Role: session.RoleAdmin, Name: "seed"}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	created, skipped := 0, 0
	for d := 1; d <= days; d++ {
		date := today.AddDate(0, 0, d)
		for _, loc := range locations {
			for start := 8; start < 18; {
				end := min(start+gofakeit.Number(1, 2), 18)
				_, err := registry.CreateSlot(ctx, admin, slot.NewSlot{
					Date:      date,
					StartHour: start,
					EndHour:   end,
					Location:  loc,
					Capacity:  gofakeit.Number(1, 6),
				})
				switch {
				case err == nil:
					created++
				case apperr.KindOf(err) == apperr.KindConflict:
					// Already seeded on a previous run.
					skipped++
				default:
					return err
				}
				start = end
			}
		}
	}

	logger.Info("slots seeded", zap.Int("created", created), zap.Int("skipped", skipped))
	return nil
}
