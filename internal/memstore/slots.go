package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type SlotRepository struct {
	s *Store
}

var _ slot.Repository = (*SlotRepository)(nil)

func (r *SlotRepository) Insert(ctx context.Context, in slot.Slot) (*slot.Slot, error) {
	var out slot.Slot
	err := r.s.do(ctx, func(st *txState) error {
		if _, ok := r.s.slots[in.ID]; ok {
			return apperr.Conflictf("insert slot: slot %s already exists", in.ID)
		}
		if r.overlapping(in) != nil {
			return apperr.Conflictf("insert slot: slot overlaps an existing slot at the same location")
		}
		in.BookedCount = 0
		r.s.slots[in.ID] = in
		st.record(func() { delete(r.s.slots, in.ID) })
		out = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SlotRepository) Get(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	var out slot.Slot
	err := r.s.do(ctx, func(*txState) error {
		cur, ok := r.s.slots[id]
		if !ok {
			return apperr.NotFoundf("slot %s not found", id)
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForUpdate is Get: transactions hold the whole store.
func (r *SlotRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	return r.Get(ctx, id)
}

func (r *SlotRepository) UpdateSchedule(ctx context.Context, in slot.Slot) (*slot.Slot, error) {
	var out slot.Slot
	err := r.s.do(ctx, func(st *txState) error {
		prev, ok := r.s.slots[in.ID]
		if !ok {
			return apperr.NotFoundf("slot %s not found", in.ID)
		}
		if r.overlapping(in) != nil {
			return apperr.Conflictf("update slot: slot overlaps an existing slot at the same location")
		}
		if in.Capacity < prev.BookedCount {
			return apperr.Capacityf("update slot: booked count would leave 0..capacity")
		}

		next := prev
		next.Date = in.Date
		next.StartHour = in.StartHour
		next.EndHour = in.EndHour
		next.Location = in.Location
		next.Capacity = in.Capacity
		next.UpdatedAt = in.UpdatedAt

		r.s.slots[in.ID] = next
		st.record(func() { r.s.slots[in.ID] = prev })
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an unbooked slot and the bookings that reference it.
func (r *SlotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.do(ctx, func(st *txState) error {
		prev, ok := r.s.slots[id]
		if !ok {
			return apperr.NotFoundf("slot %s not found", id)
		}
		if prev.BookedCount > 0 {
			return apperr.Conflictf("slot %s still holds confirmed bookings", id)
		}

		delete(r.s.slots, id)
		st.record(func() { r.s.slots[id] = prev })

		for bid, row := range r.s.bookings {
			if row.SlotID != id {
				continue
			}
			delete(r.s.bookings, bid)
			st.record(func() { r.s.bookings[bid] = row })
		}
		return nil
	})
}

func (r *SlotRepository) List(ctx context.Context, f slot.Filter) ([]slot.Slot, error) {
	var out []slot.Slot
	err := r.s.do(ctx, func(*txState) error {
		for _, cur := range r.s.slots {
			if f.Matches(cur) {
				out = append(out, cur)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSlots(out)
	return out, nil
}

func (r *SlotRepository) FindOverlapping(ctx context.Context, probe slot.Slot) ([]slot.Slot, error) {
	var out []slot.Slot
	err := r.s.do(ctx, func(*txState) error {
		for _, cur := range r.s.slots {
			if cur.ID != probe.ID && cur.Overlaps(probe) {
				out = append(out, cur)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSlots(out)
	return out, nil
}

func (r *SlotRepository) IncrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.adjust(ctx, id, at, +1)
}

func (r *SlotRepository) DecrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.adjust(ctx, id, at, -1)
}

// adjust applies delta only while the count stays within 0..capacity, like
// the guarded UPDATE of the Postgres repository.
func (r *SlotRepository) adjust(ctx context.Context, id uuid.UUID, at time.Time, delta int) (bool, error) {
	applied := false
	err := r.s.do(ctx, func(st *txState) error {
		prev, ok := r.s.slots[id]
		if !ok {
			return nil
		}
		n := prev.BookedCount + delta
		if n < 0 || n > prev.Capacity {
			return nil
		}

		next := prev
		next.BookedCount = n
		next.UpdatedAt = at
		r.s.slots[id] = next
		st.record(func() { r.s.slots[id] = prev })
		applied = true
		return nil
	})
	return applied, err
}

func (r *SlotRepository) overlapping(probe slot.Slot) *slot.Slot {
	for _, cur := range r.s.slots {
		if cur.ID != probe.ID && cur.Overlaps(probe) {
			return &cur
		}
	}
	return nil
}

func sortSlots(out []slot.Slot) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartHour != b.StartHour {
			return a.StartHour < b.StartHour
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.ID.String() < b.ID.String()
	})
}
