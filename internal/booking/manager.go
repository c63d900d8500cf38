package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/locking"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const maxReasonLength = 1000

type Manager struct {
	repo     Repository
	ledger   Ledger
	patients Patients
	tx       db.Transactor
	locker   locking.Locker
	logger   *zap.Logger
	metrics  *metrics.Scheduling
	now      func() time.Time
}

type Deps struct {
	Repo     Repository
	Ledger   Ledger
	Patients Patients
	Tx       db.Transactor
	Locker   locking.Locker
	Logger   *zap.Logger
	Metrics  *metrics.Scheduling
}

func NewManager(d Deps) *Manager {
	if d.Repo == nil || d.Ledger == nil || d.Patients == nil || d.Tx == nil {
		panic("booking: repository, ledger, patients and transactor are required")
	}
	locker := d.Locker
	if locker == nil {
		locker = locking.NewLocal()
	}
	return &Manager{
		repo:     d.Repo,
		ledger:   d.Ledger,
		patients: d.Patients,
		tx:       d.Tx,
		locker:   locker,
		logger:   logging.OrNop(d.Logger),
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Request struct {
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Reason    string
}

// RequestBooking records a pending booking. No capacity is taken until the
// booking is accepted.
func (m *Manager) RequestBooking(ctx context.Context, actor session.Actor, req Request) (*Booking, error) {
	switch {
	case actor.IsPatient():
		if req.PatientID == uuid.Nil {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return nil, apperr.Forbiddenf("patients may only request bookings for themselves")
		}
	case actor.IsStaff():
		if req.PatientID == uuid.Nil {
			return nil, apperr.Validationf("patient_id is required")
		}
	default:
		return nil, apperr.Forbiddenf("request booking requires an authenticated actor")
	}

	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLength {
		return nil, apperr.Validationf("reason must be at most %d characters", maxReasonLength)
	}

	if _, err := m.ledger.Get(ctx, req.SlotID); err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	exists, err := m.patients.Exists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !exists {
		return nil, apperr.NotFoundf("patient %s not found", req.PatientID)
	}

	now := m.now()
	b := Booking{
		ID:          uuid.New(),
		SlotID:      req.SlotID,
		PatientID:   req.PatientID,
		Reason:      req.Reason,
		Status:      StatusPending,
		RequestedAt: now,
		UpdatedAt:   now,
	}

	var created *Booking
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		out, err := m.repo.Insert(ctx, b)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		created = out
		return m.logEvent(ctx, out.ID, EventBookingRequested, map[string]any{
			"slot_id":    out.SlotID.String(),
			"patient_id": out.PatientID.String(),
			"actor_id":   actor.ID.String(),
		})
	})
	m.metrics.ObserveTransition("request", outcome(err))
	if err != nil {
		return nil, err
	}

	m.logger.Info("booking requested",
		zap.String("booking_id", created.ID.String()),
		zap.String("slot_id", created.SlotID.String()),
		zap.String("patient_id", created.PatientID.String()),
	)
	return created, nil
}

// Transition applies ev to the booking. Capacity is reserved or released in
// the same transaction as the status change; on any failure neither changes.
func (m *Manager) Transition(ctx context.Context, actor session.Actor, id uuid.UUID, ev Event) (*Booking, error) {
	updated, err := m.transition(ctx, actor, id, ev)
	m.metrics.ObserveTransition(string(ev), outcome(err))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvariant {
			m.logger.Error("booking transition hit an invariant violation",
				zap.String("booking_id", id.String()), zap.String("event", string(ev)), zap.Error(err))
		}
		return nil, err
	}

	m.logger.Info("booking transitioned",
		zap.String("booking_id", id.String()),
		zap.String("event", string(ev)),
		zap.String("status", string(updated.Status)),
		zap.String("actor_id", actor.ID.String()),
	)
	return updated, nil
}

func (m *Manager) transition(ctx context.Context, actor session.Actor, id uuid.UUID, ev Event) (*Booking, error) {
	if !actor.IsStaff() && !actor.IsPatient() {
		return nil, apperr.Forbiddenf("%s booking requires an authenticated actor", ev)
	}
	if actor.IsPatient() && staffOnly(ev) {
		return nil, apperr.Forbiddenf("patients may not %s bookings", ev)
	}

	var updated *Booking
	err := m.locker.WithLock(ctx, bookingLockKey(id), func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := m.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if actor.IsPatient() && b.PatientID != actor.ID {
				return apperr.Forbiddenf("booking %s belongs to another patient", id)
			}

			step, err := Next(b.Status, ev)
			if err != nil {
				return err
			}

			switch step.Effect {
			case EffectReserve:
				if err := m.ledger.Reserve(ctx, b.SlotID); err != nil {
					return err
				}
			case EffectRelease:
				if err := m.ledger.Release(ctx, b.SlotID); err != nil {
					return err
				}
			}

			out, err := m.repo.UpdateStatus(ctx, id, b.Status, step.To, m.now())
			if err != nil {
				return fmt.Errorf("update booking status: %w", err)
			}
			updated = out

			return m.logEvent(ctx, id, ev.logType(), map[string]any{
				"from":     b.Status,
				"to":       step.To,
				"slot_id":  b.SlotID.String(),
				"actor_id": actor.ID.String(),
			})
		})
	})
	if err != nil {
		return nil, lockConflict(err, id)
	}
	return updated, nil
}

// DeleteBooking removes a booking, releasing the capacity it held.
// Completed bookings release too, so a slot's booked count always equals its
// capacity-consuming bookings.
func (m *Manager) DeleteBooking(ctx context.Context, actor session.Actor, id uuid.UUID) error {
	if err := session.RequireStaff(actor, "delete booking"); err != nil {
		return err
	}

	err := m.locker.WithLock(ctx, bookingLockKey(id), func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := m.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return m.deleteLocked(ctx, actor, *b, "admin")
		})
	})
	err = lockConflict(err, id)
	m.metrics.ObserveTransition("delete", outcome(err))
	if err != nil {
		return err
	}

	m.logger.Info("booking deleted", zap.String("booking_id", id.String()), zap.String("actor_id", actor.ID.String()))
	return nil
}

func (m *Manager) deleteLocked(ctx context.Context, actor session.Actor, b Booking, reason string) error {
	if b.Status.ConsumesCapacity() {
		if err := m.ledger.Release(ctx, b.SlotID); err != nil {
			return err
		}
	}
	if err := m.repo.Delete(ctx, b.ID); err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	return m.logEvent(ctx, b.ID, EventBookingDeleted, map[string]any{
		"status":   b.Status,
		"slot_id":  b.SlotID.String(),
		"reason":   reason,
		"actor_id": actor.ID.String(),
	})
}

// DeleteSlotCascade deletes every booking of a slot, releasing the capacity
// they hold, and then the slot itself, in one transaction.
func (m *Manager) DeleteSlotCascade(ctx context.Context, actor session.Actor, slotID uuid.UUID) error {
	if err := session.RequireStaff(actor, "delete slot"); err != nil {
		return err
	}

	removed := 0
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.ledger.Get(ctx, slotID); err != nil {
			return err
		}
		bookings, err := m.repo.List(ctx, Filter{SlotIDs: []uuid.UUID{slotID}})
		if err != nil {
			return fmt.Errorf("list slot bookings: %w", err)
		}
		for _, b := range bookings {
			if err := m.deleteLocked(ctx, actor, b, "slot_deleted"); err != nil {
				return err
			}
			removed++
		}
		return m.ledger.DeleteSlot(ctx, actor, slotID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("slot deleted with bookings",
		zap.String("slot_id", slotID.String()),
		zap.Int("bookings_removed", removed),
		zap.String("actor_id", actor.ID.String()),
	)
	return nil
}

// Get returns a booking visible to the actor.
func (m *Manager) Get(ctx context.Context, actor session.Actor, id uuid.UUID) (*Booking, error) {
	if !actor.IsStaff() && !actor.IsPatient() {
		return nil, apperr.Forbiddenf("get booking requires an authenticated actor")
	}
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPatient() && b.PatientID != actor.ID {
		return nil, apperr.Forbiddenf("booking %s belongs to another patient", id)
	}
	return b, nil
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

// Query constrains bookings. Nil or empty fields are unconstrained.
type Query struct {
	Status    *Status
	Search    string
	DateRange *DateRange
	SlotID    *uuid.UUID
}

// Query lists bookings matching every supplied constraint. Patients only see
// their own bookings.
func (m *Manager) Query(ctx context.Context, actor session.Actor, q Query) ([]Booking, error) {
	if !actor.IsStaff() && !actor.IsPatient() {
		return nil, apperr.Forbiddenf("list bookings requires an authenticated actor")
	}

	var f Filter
	f.Status = q.Status
	if q.SlotID != nil {
		f.SlotIDs = []uuid.UUID{*q.SlotID}
	}

	if q.DateRange != nil {
		start, end := slot.Day(q.DateRange.Start), slot.Day(q.DateRange.End)
		if start.After(end) {
			return nil, apperr.Validationf("date range start %s is after end %s",
				start.Format(slot.DateLayout), end.Format(slot.DateLayout))
		}
		slots, err := m.ledger.Query(ctx, slot.Filter{From: &start, To: &end})
		if err != nil {
			return nil, fmt.Errorf("resolve date range: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(slots))
		for _, s := range slots {
			ids = append(ids, s.ID)
		}
		f.SlotIDs = narrow(f.SlotIDs, ids)
		if len(f.SlotIDs) == 0 {
			return []Booking{}, nil
		}
	}

	if term := strings.TrimSpace(q.Search); term != "" {
		ids, err := m.patients.SearchIDs(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("search patients: %w", err)
		}
		f.PatientIDs = narrow(f.PatientIDs, ids)
		if len(f.PatientIDs) == 0 {
			return []Booking{}, nil
		}
	}

	if actor.IsPatient() {
		f.PatientIDs = narrow(f.PatientIDs, []uuid.UUID{actor.ID})
		if len(f.PatientIDs) == 0 {
			return []Booking{}, nil
		}
	}

	out, err := m.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Booking{}
	}
	return out, nil
}

// Drift describes a slot whose booked count disagrees with its bookings.
type Drift struct {
	SlotID      uuid.UUID
	BookedCount int
	Consuming   int
}

// Reconcile compares every slot's booked count with the capacity-consuming
// bookings that reference it. It reports drift and never corrects it.
func (m *Manager) Reconcile(ctx context.Context) ([]Drift, error) {
	slots, err := m.ledger.Query(ctx, slot.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	counts, err := m.repo.CountConsumingBySlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("count consuming bookings: %w", err)
	}

	var drift []Drift
	for _, s := range slots {
		if consuming := counts[s.ID]; consuming != s.BookedCount {
			d := Drift{SlotID: s.ID, BookedCount: s.BookedCount, Consuming: consuming}
			drift = append(drift, d)
			m.logger.Error("capacity drift",
				zap.String("slot_id", s.ID.String()),
				zap.Int("booked_count", s.BookedCount),
				zap.Int("consuming_bookings", consuming),
				zap.Error(apperr.Invariantf("slot %s booked count %d != %d consuming bookings", s.ID, s.BookedCount, consuming)),
			)
		}
	}
	m.metrics.SetCapacityDrift(len(drift))
	return drift, nil
}

func (m *Manager) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: m.now(),
	}
	if err := m.repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event log %s: %w", eventType, err)
	}
	return nil
}

func bookingLockKey(id uuid.UUID) string {
	return "booking:" + id.String()
}

func lockConflict(err error, id uuid.UUID) error {
	if errors.Is(err, locking.ErrNotAcquired) {
		return apperr.Conflictf("booking %s is being updated by another request, retry shortly", id)
	}
	return err
}

// narrow intersects a constraint set with candidates. A nil constraint is
// unconstrained, so the result is the candidates themselves.
func narrow(constraint, candidates []uuid.UUID) []uuid.UUID {
	if constraint == nil {
		if candidates == nil {
			return []uuid.UUID{}
		}
		return candidates
	}
	out := make([]uuid.UUID, 0, len(constraint))
	for _, id := range constraint {
		if contains(candidates, id) {
			out = append(out, id)
		}
	}
	return out
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
