// Package query turns sparse list criteria into registry and manager queries
// and slices the results into pages.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type Page[T any] struct {
	Items      []T
	Pagination Pagination
}

// Paginate returns the requested page of items. Zero page or limit take the
// defaults; a page past the end is empty but still reports the totals.
func Paginate[T any](items []T, page, limit int) (Page[T], error) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 0 {
		return Page[T]{}, apperr.Validationf("page must be at least 1")
	}
	if limit < 0 || limit > MaxLimit {
		return Page[T]{}, apperr.Validationf("limit must be between 1 and %d", MaxLimit)
	}

	total := len(items)
	p := Page[T]{
		Items: []T{},
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: (total + limit - 1) / limit,
		},
	}

	// Compare page numbers before multiplying so huge pages cannot overflow.
	if page > p.Pagination.TotalPages {
		return p, nil
	}
	start := (page - 1) * limit
	end := start + limit
	if end > total {
		end = total
	}
	p.Items = items[start:end]
	return p, nil
}

type Slots interface {
	Query(ctx context.Context, f slot.Filter) ([]slot.Slot, error)
}

type Bookings interface {
	Query(ctx context.Context, actor session.Actor, q booking.Query) ([]booking.Booking, error)
}

// Layer composes the slot and booking queries with pagination. It holds no
// state of its own.
type Layer struct {
	slots    Slots
	bookings Bookings
}

func NewLayer(slots Slots, bookings Bookings) *Layer {
	return &Layer{slots: slots, bookings: bookings}
}

// SlotCriteria are the slot list filters. Nil and empty fields are
// unconstrained.
type SlotCriteria struct {
	Date     *time.Time
	From     *time.Time
	To       *time.Time
	Location string
	Search   string
	Page     int
	Limit    int
}

type BookingCriteria struct {
	Status *booking.Status
	Search string
	Start  *time.Time
	End    *time.Time
	SlotID *uuid.UUID
	Page   int
	Limit  int
}

func (l *Layer) Slots(ctx context.Context, c SlotCriteria) (Page[slot.Slot], error) {
	items, err := l.slots.Query(ctx, slot.Filter{
		Date:     c.Date,
		From:     c.From,
		To:       c.To,
		Location: strings.TrimSpace(c.Location),
		Search:   strings.TrimSpace(c.Search),
	})
	if err != nil {
		return Page[slot.Slot]{}, err
	}
	return Paginate(items, c.Page, c.Limit)
}

func (l *Layer) Bookings(ctx context.Context, actor session.Actor, c BookingCriteria) (Page[booking.Booking], error) {
	q := booking.Query{
		Status: c.Status,
		Search: strings.TrimSpace(c.Search),
		SlotID: c.SlotID,
	}

	// A half-open range is closed with the other end.
	switch {
	case c.Start != nil && c.End != nil:
		q.DateRange = &booking.DateRange{Start: *c.Start, End: *c.End}
	case c.Start != nil:
		q.DateRange = &booking.DateRange{Start: *c.Start, End: farFuture}
	case c.End != nil:
		q.DateRange = &booking.DateRange{Start: time.Time{}, End: *c.End}
	}

	items, err := l.bookings.Query(ctx, actor, q)
	if err != nil {
		return Page[booking.Booking]{}, err
	}
	return Paginate(items, c.Page, c.Limit)
}

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
