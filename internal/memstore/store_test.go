package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func newSlot(start, end, capacity int) slot.Slot {
	return slot.Slot{
		ID:        uuid.New(),
		Date:      day,
		StartHour: start,
		EndHour:   end,
		Location:  "Room A",
		Capacity:  capacity,
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	kept, err := s.Slots().Insert(ctx, newSlot(8, 9, 2))
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.Slots().Insert(ctx, newSlot(10, 11, 1))
		require.NoError(t, err)
		ok, err := s.Slots().IncrementBooked(ctx, kept.ID, day)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.Bookings().InsertEvent(ctx, booking.EventLog{EventType: "X"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	all, err := s.Slots().List(ctx, slot.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].BookedCount)
	assert.Empty(t, s.Events())
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context) error {
			_, _ = s.Slots().Insert(ctx, newSlot(8, 9, 1))
			panic("boom")
		})
	})

	all, err := s.Slots().List(ctx, slot.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNestedWithinTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context) error {
			_, err := s.Slots().Insert(ctx, newSlot(8, 9, 1))
			return err
		}))
		return errors.New("outer fails")
	})
	require.Error(t, err)

	all, err := s.Slots().List(ctx, slot.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "inner work must roll back with the outer transaction")
}

func TestAdjustStaysWithinCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	sl, err := s.Slots().Insert(ctx, newSlot(8, 9, 1))
	require.NoError(t, err)

	ok, err := s.Slots().DecrementBooked(ctx, sl.ID, day)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Slots().IncrementBooked(ctx, sl.ID, day)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Slots().IncrementBooked(ctx, sl.ID, day)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Slots().IncrementBooked(ctx, uuid.New(), day)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Slots().Insert(ctx, newSlot(9, 11, 1))
	require.NoError(t, err)

	_, err = s.Slots().Insert(ctx, newSlot(10, 12, 1))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.Slots().Insert(ctx, newSlot(11, 12, 1))
	assert.NoError(t, err)
}

func TestSlotDeleteCascadesBookings(t *testing.T) {
	ctx := context.Background()
	s := New()
	sl, err := s.Slots().Insert(ctx, newSlot(8, 9, 1))
	require.NoError(t, err)
	p := patient.Patient{ID: uuid.New(), Name: "Ada"}
	require.NoError(t, s.Patients().Add(ctx, p))

	b, err := s.Bookings().Insert(ctx, booking.Booking{
		ID: uuid.New(), SlotID: sl.ID, PatientID: p.ID, Status: booking.StatusPending, RequestedAt: day,
	})
	require.NoError(t, err)

	require.NoError(t, s.Slots().Delete(ctx, sl.ID))

	_, err = s.Bookings().Get(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBookingInsertChecksReferences(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Bookings().Insert(ctx, booking.Booking{ID: uuid.New(), SlotID: uuid.New(), PatientID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatusRequiresExpectedStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	sl, err := s.Slots().Insert(ctx, newSlot(8, 9, 1))
	require.NoError(t, err)
	p := patient.Patient{ID: uuid.New(), Name: "Ada"}
	require.NoError(t, s.Patients().Add(ctx, p))
	b, err := s.Bookings().Insert(ctx, booking.Booking{
		ID: uuid.New(), SlotID: sl.ID, PatientID: p.ID, Status: booking.StatusPending, RequestedAt: day,
	})
	require.NoError(t, err)

	_, err = s.Bookings().UpdateStatus(ctx, b.ID, booking.StatusAccepted, booking.StatusCheckedIn, day)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.Bookings().UpdateStatus(ctx, b.ID, booking.StatusPending, booking.StatusAccepted, day)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusAccepted, got.Status)
}

func TestPatientSearch(t *testing.T) {
	ctx := context.Background()
	s := New()
	email := "grace@example.com"
	ada := patient.Patient{ID: uuid.New(), Name: "Ada Lovelace"}
	grace := patient.Patient{ID: uuid.New(), Name: "Grace Hopper", Email: &email}
	require.NoError(t, s.Patients().Add(ctx, ada))
	require.NoError(t, s.Patients().Add(ctx, grace))

	ids, err := s.Patients().SearchIDs(ctx, "LOVE")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ada.ID}, ids)

	ids, err = s.Patients().SearchIDs(ctx, "hop")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{grace.ID}, ids)

	ids, err = s.Patients().SearchIDs(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, ids, "email is not searched")

	ids, err = s.Patients().SearchIDs(ctx, "_")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.Patients().SearchIDs(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
