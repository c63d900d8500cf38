// Package memstore keeps slots, bookings and patients in process memory. It
// implements the same repositories as the Postgres backend, including
// transactions with rollback, so the core runs unchanged on either.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type bookingRow struct {
	booking.Booking
	seq int64
}

type Store struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]slot.Slot
	bookings map[uuid.UUID]bookingRow
	patients map[uuid.UUID]patient.Patient
	events   []booking.EventLog
	seq      int64
}

func New() *Store {
	return &Store{
		slots:    make(map[uuid.UUID]slot.Slot),
		bookings: make(map[uuid.UUID]bookingRow),
		patients: make(map[uuid.UUID]patient.Patient),
	}
}

type txKey struct{}

// txState is the undo journal of one transaction. Entries run in reverse on
// rollback.
type txState struct {
	store *Store
	undo  []func()
}

func (t *txState) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txState) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *Store) current(ctx context.Context) (*txState, bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if ok && st.store == s {
		return st, true
	}
	return nil, false
}

// WithinTx runs fn holding the store lock. Changes are undone if fn fails or
// panics. A nested call joins the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := s.current(ctx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &txState{store: s}
	committed := false
	defer func() {
		if !committed {
			st.rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return err
	}
	committed = true
	return nil
}

// do runs a single repository operation, inside the caller's transaction if
// there is one.
func (s *Store) do(ctx context.Context, fn func(st *txState) error) error {
	if st, ok := s.current(ctx); ok {
		return fn(st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &txState{store: s}
	if err := fn(st); err != nil {
		st.rollback()
		return err
	}
	return nil
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Events returns a copy of the event log.
func (s *Store) Events() []booking.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]booking.EventLog(nil), s.events...)
}

func (s *Store) Slots() *SlotRepository { return &SlotRepository{s: s} }

func (s *Store) Bookings() *BookingRepository { return &BookingRepository{s: s} }

func (s *Store) Patients() *PatientRepository { return &PatientRepository{s: s} }

// Ping always succeeds; it lets the store stand in for a database in health
// checks.
func (s *Store) Ping(context.Context) error { return nil }
