package slot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/locking"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/validation"
)

// Registry owns appointment slots and is the only writer of their booked
// capacity.
type Registry struct {
	repo    Repository
	tx      db.Transactor
	locker  locking.Locker
	logger  *zap.Logger
	metrics *metrics.Scheduling
	now     func() time.Time
}

func NewRegistry(repo Repository, tx db.Transactor, locker locking.Locker, logger *zap.Logger, m *metrics.Scheduling) *Registry {
	if locker == nil {
		locker = locking.NewLocal()
	}
	return &Registry{
		repo:    repo,
		tx:      tx,
		locker:  locker,
		logger:  logging.OrNop(logger),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func scheduleLockKey(location string, date time.Time) string {
	return fmt.Sprintf("schedule:%s:%s", strings.ToLower(location), date.Format(DateLayout))
}

// CreateSlot validates and stores a new slot. Overlapping an existing slot at
// the same location and date is a conflict.
func (r *Registry) CreateSlot(ctx context.Context, actor session.Actor, in NewSlot) (*Slot, error) {
	if err := session.RequireStaff(actor, "create slot"); err != nil {
		return nil, err
	}

	now := r.now()
	s := Slot{
		ID:        uuid.New(),
		Date:      Day(in.Date),
		StartHour: in.StartHour,
		EndHour:   in.EndHour,
		Location:  strings.TrimSpace(in.Location),
		Capacity:  in.Capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Date.IsZero() {
		return nil, apperr.Validationf("Date is required")
	}
	if err := validation.Struct(s.schedule()); err != nil {
		return nil, err
	}

	var created *Slot
	err := r.locker.WithLock(ctx, scheduleLockKey(s.Location, s.Date), func(ctx context.Context) error {
		return r.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := r.checkOverlap(ctx, s); err != nil {
				return err
			}
			out, err := r.repo.Insert(ctx, s)
			if err != nil {
				return fmt.Errorf("insert slot: %w", err)
			}
			created = out
			return nil
		})
	})
	if err != nil {
		err = lockConflict(err, "slot schedule")
		r.observe("create", err)
		return nil, err
	}

	r.observe("create", nil)
	r.logger.Info("slot created",
		zap.String("slot_id", created.ID.String()),
		zap.String("slot", created.String()),
		zap.Int("capacity", created.Capacity),
		zap.String("actor_id", actor.ID.String()),
	)
	return created, nil
}

// UpdateSlot applies a patch. Capacity may not drop below the booked count.
func (r *Registry) UpdateSlot(ctx context.Context, actor session.Actor, id uuid.UUID, p Patch) (*Slot, error) {
	if err := session.RequireStaff(actor, "update slot"); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, apperr.Validationf("update slot %s: nothing to change", id)
	}

	// The lock key depends on where the slot ends up, so peek first and
	// re-read under the row lock below.
	cur, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target := p.apply(*cur)

	var updated *Slot
	err = r.locker.WithLock(ctx, scheduleLockKey(target.Location, target.Date), func(ctx context.Context) error {
		return r.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := r.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			next := p.apply(*cur)
			next.UpdatedAt = r.now()

			// Shrinking below the confirmed bookings is a capacity error even
			// when the new value is also out of range.
			if cur.BookedCount > 0 && next.Capacity < cur.BookedCount {
				return apperr.Capacityf("slot %s has %d confirmed bookings, capacity cannot drop to %d",
					id, cur.BookedCount, next.Capacity)
			}
			if err := validation.Struct(next.schedule()); err != nil {
				return err
			}
			if !next.Date.Equal(cur.Date) || next.Location != cur.Location ||
				next.StartHour != cur.StartHour || next.EndHour != cur.EndHour {
				if err := r.checkOverlap(ctx, next); err != nil {
					return err
				}
			}

			out, err := r.repo.UpdateSchedule(ctx, next)
			if err != nil {
				return fmt.Errorf("update slot: %w", err)
			}
			updated = out
			return nil
		})
	})
	if err != nil {
		err = lockConflict(err, "slot schedule")
		r.observe("update", err)
		return nil, err
	}

	r.observe("update", nil)
	r.logger.Info("slot updated", zap.String("slot_id", id.String()), zap.String("slot", updated.String()))
	return updated, nil
}

// DeleteSlot removes a slot that holds no confirmed bookings.
func (r *Registry) DeleteSlot(ctx context.Context, actor session.Actor, id uuid.UUID) error {
	if err := session.RequireStaff(actor, "delete slot"); err != nil {
		return err
	}

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.BookedCount > 0 {
			return apperr.Conflictf("slot %s still holds %d confirmed bookings", id, cur.BookedCount)
		}
		if err := r.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete slot: %w", err)
		}
		return nil
	})
	r.observe("delete", err)
	if err != nil {
		return err
	}

	r.logger.Info("slot deleted", zap.String("slot_id", id.String()), zap.String("actor_id", actor.ID.String()))
	return nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.repo.Get(ctx, id)
}

// Query returns slots matching every supplied filter.
func (r *Registry) Query(ctx context.Context, f Filter) ([]Slot, error) {
	f.Location = strings.TrimSpace(f.Location)
	f.Search = strings.TrimSpace(f.Search)
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.Validationf("date range start %s is after end %s",
			f.From.Format(DateLayout), f.To.Format(DateLayout))
	}
	return r.repo.List(ctx, f)
}

// Reserve takes one unit of capacity. A full slot fails with a capacity error
// and keeps its count.
func (r *Registry) Reserve(ctx context.Context, id uuid.UUID) error {
	ok, err := r.repo.IncrementBooked(ctx, id, r.now())
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if ok {
		return nil
	}

	s, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	r.metrics.ObserveCapacityRejection()
	return apperr.Capacityf("slot %s is full (%d/%d)", id, s.BookedCount, s.Capacity)
}

// Release returns one unit of capacity. Releasing an empty slot means a caller
// lost track of its reservation.
func (r *Registry) Release(ctx context.Context, id uuid.UUID) error {
	ok, err := r.repo.DecrementBooked(ctx, id, r.now())
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if ok {
		return nil
	}

	if _, err := r.repo.Get(ctx, id); err != nil {
		return err
	}
	err = apperr.Invariantf("release on slot %s with no booked capacity", id)
	r.logger.Error("capacity invariant violated", zap.String("slot_id", id.String()), zap.Error(err))
	return err
}

func (r *Registry) checkOverlap(ctx context.Context, s Slot) error {
	overlapping, err := r.repo.FindOverlapping(ctx, s)
	if err != nil {
		return fmt.Errorf("check overlapping slots: %w", err)
	}
	if len(overlapping) > 0 {
		return apperr.Conflictf("slot %s overlaps existing slot %s (%s)", s, overlapping[0].ID, overlapping[0])
	}
	return nil
}

func (r *Registry) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	r.metrics.ObserveSlotMutation(op, outcome)
}

func lockConflict(err error, what string) error {
	if errors.Is(err, locking.ErrNotAcquired) {
		return apperr.Conflictf("%s is being changed by another request, retry shortly", what)
	}
	return err
}
