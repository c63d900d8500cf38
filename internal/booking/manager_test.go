package booking_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	registry *slot.Registry
	manager  *booking.Manager
	staff    session.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	m := metrics.NewScheduling(prometheus.NewRegistry())
	registry := slot.NewRegistry(store.Slots(), store, nil, nil, m)
	manager := booking.NewManager(booking.Deps{
		Repo:     store.Bookings(),
		Ledger:   registry,
		Patients: store.Patients(),
		Tx:       store,
		Metrics:  m,
	})
	return &fixture{
		store:    store,
		registry: registry,
		manager:  manager,
		staff:    session.Actor{ID: uuid.New(), Role: session.RoleStaff, Name: "Front Desk"},
	}
}

func (f *fixture) patient(t *testing.T, name string) session.Actor {
	t.Helper()
	p := patient.Patient{ID: uuid.New(), Name: name, CreatedAt: monday, UpdatedAt: monday}
	require.NoError(t, f.store.Patients().Add(context.Background(), p))
	return session.Actor{ID: p.ID, Role: session.RolePatient, Name: name}
}

func (f *fixture) slot(t *testing.T, date time.Time, start, capacity int) *slot.Slot {
	t.Helper()
	s, err := f.registry.CreateSlot(context.Background(), f.staff, slot.NewSlot{
		Date: date, StartHour: start, EndHour: start + 1, Location: "Room A", Capacity: capacity,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) request(t *testing.T, s *slot.Slot, p session.Actor) *booking.Booking {
	t.Helper()
	b, err := f.manager.RequestBooking(context.Background(), p, booking.Request{SlotID: s.ID, Reason: "checkup"})
	require.NoError(t, err)
	return b
}

func (f *fixture) booked(t *testing.T, id uuid.UUID) int {
	t.Helper()
	s, err := f.registry.Get(context.Background(), id)
	require.NoError(t, err)
	return s.BookedCount
}

func (f *fixture) status(t *testing.T, id uuid.UUID) booking.Status {
	t.Helper()
	b, err := f.manager.Get(context.Background(), f.staff, id)
	require.NoError(t, err)
	return b.Status
}

func TestRequestBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 1)
	ada := f.patient(t, "Ada")

	b := f.request(t, s, ada)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, ada.ID, b.PatientID)
	assert.Equal(t, 0, f.booked(t, s.ID), "requests do not consume capacity")

	// More requests than capacity are allowed while pending.
	f.request(t, s, f.patient(t, "Grace"))

	_, err := f.manager.RequestBooking(ctx, ada, booking.Request{SlotID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.RequestBooking(ctx, f.staff, booking.Request{SlotID: s.ID, PatientID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.RequestBooking(ctx, ada, booking.Request{SlotID: s.ID, PatientID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	staffMade, err := f.manager.RequestBooking(ctx, f.staff, booking.Request{SlotID: s.ID, PatientID: ada.ID})
	require.NoError(t, err)
	assert.Equal(t, ada.ID, staffMade.PatientID)

	events := f.store.Events()
	require.Len(t, events, 3)
	assert.Equal(t, booking.EventBookingRequested, events[0].EventType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, s.ID.String(), payload["slot_id"])
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 2)
	b := f.request(t, s, f.patient(t, "Ada"))

	for _, step := range []struct {
		ev     booking.Event
		want   booking.Status
		booked int
	}{
		{booking.EventAccept, booking.StatusAccepted, 1},
		{booking.EventCheckIn, booking.StatusCheckedIn, 1},
		{booking.EventComplete, booking.StatusCompleted, 1},
	} {
		got, err := f.manager.Transition(ctx, f.staff, b.ID, step.ev)
		require.NoError(t, err, step.ev)
		assert.Equal(t, step.want, got.Status)
		assert.Equal(t, step.booked, f.booked(t, s.ID))
	}

	_, err := f.manager.Transition(ctx, f.staff, b.ID, booking.EventCancel)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, booking.StatusCompleted, f.status(t, b.ID))
}

func TestTransitionMatchesTable(t *testing.T) {
	ctx := context.Background()
	all := []booking.Event{booking.EventAccept, booking.EventReject, booking.EventCheckIn, booking.EventComplete, booking.EventCancel}
	paths := map[booking.Status][]booking.Event{
		booking.StatusPending:   nil,
		booking.StatusAccepted:  {booking.EventAccept},
		booking.StatusRejected:  {booking.EventReject},
		booking.StatusCheckedIn: {booking.EventAccept, booking.EventCheckIn},
		booking.StatusCompleted: {booking.EventAccept, booking.EventCheckIn, booking.EventComplete},
	}

	for from, path := range paths {
		for _, ev := range all {
			f := newFixture(t)
			s := f.slot(t, monday, 9, 1)
			b := f.request(t, s, f.patient(t, "Ada"))
			for _, p := range path {
				_, err := f.manager.Transition(ctx, f.staff, b.ID, p)
				require.NoError(t, err)
			}
			before := f.booked(t, s.ID)

			_, want := booking.Next(from, ev)
			got, err := f.manager.Transition(ctx, f.staff, b.ID, ev)
			if want != nil {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s/%s", from, ev)
				assert.Equal(t, from, f.status(t, b.ID))
				assert.Equal(t, before, f.booked(t, s.ID))
				continue
			}
			require.NoError(t, err, "%s/%s", from, ev)
			assert.NotEqual(t, from, got.Status)
		}
	}
}

func TestAcceptBeyondCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 1)
	first := f.request(t, s, f.patient(t, "Ada"))
	second := f.request(t, s, f.patient(t, "Grace"))

	_, err := f.manager.Transition(ctx, f.staff, first.ID, booking.EventAccept)
	require.NoError(t, err)

	_, err = f.manager.Transition(ctx, f.staff, second.ID, booking.EventAccept)
	assert.ErrorIs(t, err, apperr.ErrCapacity)
	assert.Equal(t, booking.StatusPending, f.status(t, second.ID))
	assert.Equal(t, 1, f.booked(t, s.ID))
}

func TestCancelReleasesOneUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 1)
	ada := f.patient(t, "Ada")
	first := f.request(t, s, ada)
	second := f.request(t, s, f.patient(t, "Grace"))

	_, err := f.manager.Transition(ctx, f.staff, first.ID, booking.EventAccept)
	require.NoError(t, err)

	got, err := f.manager.Transition(ctx, ada, first.ID, booking.EventCancel)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRejected, got.Status)
	assert.Equal(t, 0, f.booked(t, s.ID))

	_, err = f.manager.Transition(ctx, f.staff, second.ID, booking.EventAccept)
	require.NoError(t, err)
	assert.Equal(t, 1, f.booked(t, s.ID))
}

func TestPatientAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 1)
	ada := f.patient(t, "Ada")
	grace := f.patient(t, "Grace")
	b := f.request(t, s, ada)

	for _, ev := range []booking.Event{booking.EventAccept, booking.EventReject, booking.EventCheckIn, booking.EventComplete} {
		_, err := f.manager.Transition(ctx, ada, b.ID, ev)
		assert.ErrorIs(t, err, apperr.ErrForbidden, ev)
	}

	_, err := f.manager.Transition(ctx, grace, b.ID, booking.EventCancel)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.manager.Get(ctx, grace, b.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	assert.ErrorIs(t, f.manager.DeleteBooking(ctx, ada, b.ID), apperr.ErrForbidden)

	_, err = f.manager.Transition(ctx, session.Actor{}, b.ID, booking.EventCancel)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	assert.Equal(t, booking.StatusPending, f.status(t, b.ID))
}

func TestPatientCancelsPending(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, monday, 9, 1)
	ada := f.patient(t, "Ada")
	b := f.request(t, s, ada)

	got, err := f.manager.Transition(context.Background(), ada, b.ID, booking.EventCancel)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRejected, got.Status)
	assert.Equal(t, 0, f.booked(t, s.ID))
}

func TestTransitionUnknownBooking(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Transition(context.Background(), f.staff, uuid.New(), booking.EventAccept)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteBookingReleasesConsumingStatuses(t *testing.T) {
	ctx := context.Background()

	for name, path := range map[string][]booking.Event{
		"pending":    nil,
		"accepted":   {booking.EventAccept},
		"checked in": {booking.EventAccept, booking.EventCheckIn},
		"completed":  {booking.EventAccept, booking.EventCheckIn, booking.EventComplete},
		"rejected":   {booking.EventReject},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			s := f.slot(t, monday, 9, 1)
			b := f.request(t, s, f.patient(t, "Ada"))
			for _, ev := range path {
				_, err := f.manager.Transition(ctx, f.staff, b.ID, ev)
				require.NoError(t, err)
			}

			require.NoError(t, f.manager.DeleteBooking(ctx, f.staff, b.ID))
			assert.Equal(t, 0, f.booked(t, s.ID))

			_, err := f.manager.Get(ctx, f.staff, b.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			drift, err := f.manager.Reconcile(ctx)
			require.NoError(t, err)
			assert.Empty(t, drift)
		})
	}
}

func TestDeleteSlotCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 2)
	accepted := f.request(t, s, f.patient(t, "Ada"))
	pending := f.request(t, s, f.patient(t, "Grace"))
	_, err := f.manager.Transition(ctx, f.staff, accepted.ID, booking.EventAccept)
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.DeleteSlot(ctx, f.staff, s.ID), apperr.ErrConflict)
	assert.ErrorIs(t, f.manager.DeleteSlotCascade(ctx, session.Actor{Role: session.RolePatient}, s.ID), apperr.ErrForbidden)

	require.NoError(t, f.manager.DeleteSlotCascade(ctx, f.staff, s.ID))

	_, err = f.registry.Get(ctx, s.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	for _, id := range []uuid.UUID{accepted.ID, pending.ID} {
		_, err = f.manager.Get(ctx, f.staff, id)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tuesday := monday.AddDate(0, 0, 1)
	s1 := f.slot(t, monday, 9, 5)
	s2 := f.slot(t, tuesday, 9, 5)
	ada := f.patient(t, "Ada Lovelace")
	grace := f.patient(t, "Grace Hopper")

	b1 := f.request(t, s1, ada)
	b2 := f.request(t, s2, ada)
	b3 := f.request(t, s2, grace)
	_, err := f.manager.Transition(ctx, f.staff, b3.ID, booking.EventAccept)
	require.NoError(t, err)

	ids := func(bs []booking.Booking) []uuid.UUID {
		out := make([]uuid.UUID, len(bs))
		for i, b := range bs {
			out[i] = b.ID
		}
		return out
	}

	pending := booking.StatusPending
	got, err := f.manager.Query(ctx, f.staff, booking.Query{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b1.ID, b2.ID}, ids(got))

	got, err = f.manager.Query(ctx, f.staff, booking.Query{Search: "hopper"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b3.ID}, ids(got))

	got, err = f.manager.Query(ctx, f.staff, booking.Query{DateRange: &booking.DateRange{Start: tuesday, End: tuesday}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b2.ID, b3.ID}, ids(got))

	got, err = f.manager.Query(ctx, f.staff, booking.Query{SlotID: &s1.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b1.ID}, ids(got))

	got, err = f.manager.Query(ctx, f.staff, booking.Query{SlotID: &s1.ID, DateRange: &booking.DateRange{Start: tuesday, End: tuesday}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.manager.Query(ctx, f.staff, booking.Query{Search: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.manager.Query(ctx, grace, booking.Query{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b3.ID}, ids(got))

	got, err = f.manager.Query(ctx, grace, booking.Query{Search: "ada"})
	require.NoError(t, err)
	assert.Empty(t, got, "patients only see their own bookings")

	_, err = f.manager.Query(ctx, f.staff, booking.Query{DateRange: &booking.DateRange{Start: tuesday, End: monday}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 3)
	b := f.request(t, s, f.patient(t, "Ada"))
	_, err := f.manager.Transition(ctx, f.staff, b.ID, booking.EventAccept)
	require.NoError(t, err)

	drift, err := f.manager.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	// Simulate an out-of-band write to the counter.
	ok, err := f.store.Slots().IncrementBooked(ctx, s.ID, monday)
	require.NoError(t, err)
	require.True(t, ok)

	drift, err = f.manager.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, booking.Drift{SlotID: s.ID, BookedCount: 2, Consuming: 1}, drift[0])
}

func TestConcurrentAcceptsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const capacity = 3
	s := f.slot(t, monday, 9, capacity)

	var requests []*booking.Booking
	for i := 0; i < 20; i++ {
		requests = append(requests, f.request(t, s, f.patient(t, "Patient")))
	}

	var accepted, full int32
	var wg sync.WaitGroup
	for _, b := range requests {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.manager.Transition(ctx, f.staff, id, booking.EventAccept)
			switch apperr.KindOf(err) {
			case apperr.KindUnknown:
				if err == nil {
					atomic.AddInt32(&accepted, 1)
					return
				}
				t.Errorf("unexpected error: %v", err)
			case apperr.KindCapacity:
				atomic.AddInt32(&full, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b.ID)
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), accepted)
	assert.Equal(t, int32(len(requests)-capacity), full)
	assert.Equal(t, capacity, f.booked(t, s.ID))

	drift, err := f.manager.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

// failingEvents breaks the event log write, the last step of every mutation.
type failingEvents struct {
	booking.Repository
	err error
}

func (r failingEvents) InsertEvent(context.Context, booking.EventLog) error { return r.err }

func TestFailedEventWriteRollsBackTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, monday, 9, 1)
	pending := f.request(t, s, f.patient(t, "Ada"))
	accepted := f.request(t, f.slot(t, monday, 10, 1), f.patient(t, "Grace"))
	_, err := f.manager.Transition(ctx, f.staff, accepted.ID, booking.EventAccept)
	require.NoError(t, err)
	eventsBefore := len(f.store.Events())

	diskGone := apperr.Storage("insert event", errors.New("disk gone"))
	broken := booking.NewManager(booking.Deps{
		Repo:     failingEvents{Repository: f.store.Bookings(), err: diskGone},
		Ledger:   f.registry,
		Patients: f.store.Patients(),
		Tx:       f.store,
	})

	_, err = broken.Transition(ctx, f.staff, pending.ID, booking.EventAccept)
	assert.ErrorIs(t, err, diskGone)
	assert.Equal(t, 0, f.booked(t, s.ID), "reserve is undone")
	assert.Equal(t, booking.StatusPending, f.status(t, pending.ID))

	_, err = broken.Transition(ctx, f.staff, accepted.ID, booking.EventCancel)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, 1, f.booked(t, accepted.SlotID), "release is undone")
	assert.Equal(t, booking.StatusAccepted, f.status(t, accepted.ID))

	err = broken.DeleteBooking(ctx, f.staff, accepted.ID)
	assert.ErrorIs(t, err, diskGone)
	assert.Equal(t, 1, f.booked(t, accepted.SlotID))
	assert.Equal(t, booking.StatusAccepted, f.status(t, accepted.ID))

	assert.Len(t, f.store.Events(), eventsBefore)
}
