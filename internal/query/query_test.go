package query

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		page      int
		limit     int
		wantItems []int
		wantPages int
		wantPage  int
		wantLimit int
	}{
		{name: "first page", total: 23, page: 1, limit: 10, wantItems: seq(10), wantPages: 3, wantPage: 1, wantLimit: 10},
		{name: "last partial page", total: 23, page: 3, limit: 10, wantItems: []int{21, 22, 23}, wantPages: 3, wantPage: 3, wantLimit: 10},
		{name: "past the end", total: 23, page: 4, limit: 10, wantItems: []int{}, wantPages: 3, wantPage: 4, wantLimit: 10},
		{name: "defaults", total: 5, wantItems: seq(5), wantPages: 1, wantPage: 1, wantLimit: 10},
		{name: "exact multiple", total: 20, page: 2, limit: 10, wantItems: seq(20)[10:], wantPages: 2, wantPage: 2, wantLimit: 10},
		{name: "empty", total: 0, page: 1, limit: 10, wantItems: []int{}, wantPages: 0, wantPage: 1, wantLimit: 10},
		{name: "huge page", total: 23, page: math.MaxInt, limit: 10, wantItems: []int{}, wantPages: 3, wantPage: math.MaxInt, wantLimit: 10},
		{name: "huge page at max limit", total: 23, page: math.MaxInt/2 + 2, limit: MaxLimit, wantItems: []int{}, wantPages: 1, wantPage: math.MaxInt/2 + 2, wantLimit: MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Paginate(seq(tt.total), tt.page, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantItems, p.Items)
			assert.Equal(t, Pagination{Total: tt.total, Page: tt.wantPage, Limit: tt.wantLimit, TotalPages: tt.wantPages}, p.Pagination)
		})
	}
}

func TestPaginateRejectsBadInput(t *testing.T) {
	_, err := Paginate(seq(3), -1, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = Paginate(seq(3), 1, MaxLimit+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type slotsFunc func(ctx context.Context, f slot.Filter) ([]slot.Slot, error)

func (fn slotsFunc) Query(ctx context.Context, f slot.Filter) ([]slot.Slot, error) { return fn(ctx, f) }

type bookingsFunc func(ctx context.Context, actor session.Actor, q booking.Query) ([]booking.Booking, error)

func (fn bookingsFunc) Query(ctx context.Context, actor session.Actor, q booking.Query) ([]booking.Booking, error) {
	return fn(ctx, actor, q)
}

func TestLayerSlotsTranslatesCriteria(t *testing.T) {
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var got slot.Filter
	l := NewLayer(slotsFunc(func(_ context.Context, f slot.Filter) ([]slot.Slot, error) {
		got = f
		return make([]slot.Slot, 23), nil
	}), nil)

	page, err := l.Slots(context.Background(), SlotCriteria{Date: &date, Location: " Room A ", Page: 3, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, "Room A", got.Location)
	assert.Equal(t, &date, got.Date)
	assert.Empty(t, got.Search)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.Pagination.TotalPages)
}

func TestLayerBookingsTranslatesCriteria(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	slotID := uuid.New()
	status := booking.StatusPending
	actor := session.Actor{ID: uuid.New(), Role: session.RoleStaff}

	var got booking.Query
	l := NewLayer(nil, bookingsFunc(func(_ context.Context, a session.Actor, q booking.Query) ([]booking.Booking, error) {
		assert.Equal(t, actor, a)
		got = q
		return []booking.Booking{{ID: uuid.New()}}, nil
	}))

	page, err := l.Bookings(context.Background(), actor, BookingCriteria{
		Status: &status, Search: " ada ", Start: &start, SlotID: &slotID,
	})
	require.NoError(t, err)

	assert.Equal(t, &status, got.Status)
	assert.Equal(t, "ada", got.Search)
	assert.Equal(t, &slotID, got.SlotID)
	require.NotNil(t, got.DateRange)
	assert.Equal(t, start, got.DateRange.Start)
	assert.True(t, got.DateRange.End.After(start))
	assert.Equal(t, Pagination{Total: 1, Page: 1, Limit: 10, TotalPages: 1}, page.Pagination)

	_, err = l.Bookings(context.Background(), actor, BookingCriteria{})
	require.NoError(t, err)
	assert.Nil(t, got.DateRange)
}
