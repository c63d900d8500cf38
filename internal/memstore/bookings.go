package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/patient"
)

type BookingRepository struct {
	s *Store
}

var _ booking.Repository = (*BookingRepository)(nil)

func (r *BookingRepository) Insert(ctx context.Context, b booking.Booking) (*booking.Booking, error) {
	err := r.s.do(ctx, func(st *txState) error {
		if _, ok := r.s.bookings[b.ID]; ok {
			return apperr.Conflictf("insert booking: booking %s already exists", b.ID)
		}
		if _, ok := r.s.slots[b.SlotID]; !ok {
			return apperr.NotFoundf("insert booking: referenced slot or patient does not exist")
		}
		if _, ok := r.s.patients[b.PatientID]; !ok {
			return apperr.NotFoundf("insert booking: referenced slot or patient does not exist")
		}

		r.s.bookings[b.ID] = bookingRow{Booking: b, seq: r.s.nextSeq()}
		st.record(func() { delete(r.s.bookings, b.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	var out booking.Booking
	err := r.s.do(ctx, func(*txState) error {
		row, ok := r.s.bookings[id]
		if !ok {
			return apperr.NotFoundf("booking %s not found", id)
		}
		out = row.Booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return r.Get(ctx, id)
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to booking.Status, at time.Time) (*booking.Booking, error) {
	var out booking.Booking
	err := r.s.do(ctx, func(st *txState) error {
		prev, ok := r.s.bookings[id]
		if !ok || prev.Status != from {
			return apperr.Conflictf("booking %s is no longer %s", id, from)
		}

		next := prev
		next.Status = to
		next.UpdatedAt = at
		r.s.bookings[id] = next
		st.record(func() { r.s.bookings[id] = prev })
		out = next.Booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BookingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.do(ctx, func(st *txState) error {
		prev, ok := r.s.bookings[id]
		if !ok {
			return apperr.NotFoundf("booking %s not found", id)
		}
		delete(r.s.bookings, id)
		st.record(func() { r.s.bookings[id] = prev })
		return nil
	})
}

func (r *BookingRepository) List(ctx context.Context, f booking.Filter) ([]booking.Booking, error) {
	var rows []bookingRow
	err := r.s.do(ctx, func(*txState) error {
		for _, row := range r.s.bookings {
			if f.Matches(row.Booking) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return a.seq < b.seq
	})

	out := make([]booking.Booking, len(rows))
	for i, row := range rows {
		out[i] = row.Booking
	}
	return out, nil
}

func (r *BookingRepository) CountConsumingBySlot(ctx context.Context) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	err := r.s.do(ctx, func(*txState) error {
		for _, row := range r.s.bookings {
			if row.Status.ConsumesCapacity() {
				counts[row.SlotID]++
			}
		}
		return nil
	})
	return counts, err
}

func (r *BookingRepository) InsertEvent(ctx context.Context, ev booking.EventLog) error {
	return r.s.do(ctx, func(st *txState) error {
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		ev.ID = r.s.nextSeq()
		n := len(r.s.events)
		r.s.events = append(r.s.events, ev)
		st.record(func() { r.s.events = r.s.events[:n] })
		return nil
	})
}

type PatientRepository struct {
	s *Store
}

var _ booking.Patients = (*PatientRepository)(nil)

// Add stores or replaces a patient.
func (r *PatientRepository) Add(ctx context.Context, p patient.Patient) error {
	return r.s.do(ctx, func(st *txState) error {
		prev, existed := r.s.patients[p.ID]
		r.s.patients[p.ID] = p
		st.record(func() {
			if existed {
				r.s.patients[p.ID] = prev
			} else {
				delete(r.s.patients, p.ID)
			}
		})
		return nil
	})
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var out patient.Patient
	err := r.s.do(ctx, func(*txState) error {
		p, ok := r.s.patients[id]
		if !ok {
			return apperr.NotFoundf("patient %s not found", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PatientRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	found := false
	err := r.s.do(ctx, func(*txState) error {
		_, found = r.s.patients[id]
		return nil
	})
	return found, err
}

func (r *PatientRepository) SearchIDs(ctx context.Context, term string) ([]uuid.UUID, error) {
	var matches []patient.Patient
	err := r.s.do(ctx, func(*txState) error {
		for _, p := range r.s.patients {
			if p.Matches(term) {
				matches = append(matches, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if c := strings.Compare(matches[i].Name, matches[j].Name); c != 0 {
			return c < 0
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})

	ids := make([]uuid.UUID, 0, len(matches))
	for _, p := range matches {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
