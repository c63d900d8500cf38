package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/query"
	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/validation"
)

// Services are the scheduling components the handlers call.
type Services struct {
	Slots    *slot.Registry
	Bookings *booking.Manager
	Query    *query.Layer
	Retry    RetryPolicy
	Logger   *zap.Logger
}

func (s Services) run(r *http.Request, op string, fn func(ctx context.Context) error) error {
	return s.Retry.do(r.Context(), s.Logger, op, fn)
}

// Slots

func createSlotHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateSlotRequest
		if !decode(w, r, &req) {
			return
		}
		if err := validation.Struct(req); err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}
		date, err := slot.ParseDate(req.Date)
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		in := slot.NewSlot{
			Date:      date,
			StartHour: *req.StartHour,
			EndHour:   *req.EndHour,
			Location:  req.Location,
			Capacity:  *req.Capacity,
		}
		var created *slot.Slot
		err = svc.run(r, "create slot", func(ctx context.Context) error {
			created, err = svc.Slots.CreateSlot(ctx, actor, in)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusCreated, toSlotResponse(*created))
	}
}

func updateSlotHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateSlotRequest
		if !decode(w, r, &req) {
			return
		}
		if err := validation.Struct(req); err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		patch := slot.Patch{
			StartHour: req.StartHour,
			EndHour:   req.EndHour,
			Location:  req.Location,
			Capacity:  req.Capacity,
		}
		if req.Date != nil {
			date, err := slot.ParseDate(*req.Date)
			if err != nil {
				handleError(w, r, svc.Logger, err)
				return
			}
			patch.Date = &date
		}

		var updated *slot.Slot
		err := svc.run(r, "update slot", func(ctx context.Context) error {
			var err error
			updated, err = svc.Slots.UpdateSlot(ctx, actor, id, patch)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusOK, toSlotResponse(*updated))
	}
}

// deleteSlotHandler refuses slots with confirmed bookings unless force=true,
// which removes the slot's bookings and releases their capacity first.
func deleteSlotHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		force, err := boolParam(r, "force")
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		err = svc.run(r, "delete slot", func(ctx context.Context) error {
			if force {
				return svc.Bookings.DeleteSlotCascade(ctx, actor, id)
			}
			return svc.Slots.DeleteSlot(ctx, actor, id)
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getSlotHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var s *slot.Slot
		err := svc.run(r, "get slot", func(ctx context.Context) error {
			var err error
			s, err = svc.Slots.Get(ctx, id)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusOK, toSlotResponse(*s))
	}
}

func listSlotsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		var (
			c   query.SlotCriteria
			err error
		)
		q := r.URL.Query()
		c.Location = q.Get("location")
		c.Search = q.Get("search")
		if c.Date, err = dateParam(r, "date"); err == nil {
			if c.From, err = dateParam(r, "from"); err == nil {
				c.To, err = dateParam(r, "to")
			}
		}
		if err == nil {
			c.Page, c.Limit, err = pageParams(r)
		}
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		var page query.Page[slot.Slot]
		err = svc.run(r, "list slots", func(ctx context.Context) error {
			var err error
			page, err = svc.Query.Slots(ctx, c)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		data := make([]SlotResponse, 0, len(page.Items))
		for _, s := range page.Items {
			data = append(data, toSlotResponse(s))
		}
		writeList(w, data, page.Pagination)
	}
}

// Bookings

func createBookingHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateBookingRequest
		if !decode(w, r, &req) {
			return
		}
		if err := validation.Struct(req); err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		in := booking.Request{SlotID: uuid.MustParse(req.SlotID), Reason: req.Reason}
		if req.PatientID != "" {
			in.PatientID = uuid.MustParse(req.PatientID)
		}

		var created *booking.Booking
		err := svc.run(r, "request booking", func(ctx context.Context) error {
			var err error
			created, err = svc.Bookings.RequestBooking(ctx, actor, in)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusCreated, toBookingResponse(*created))
	}
}

func transitionBookingHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		ev, err := booking.ParseEvent(chi.URLParam(r, "event"))
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		var updated *booking.Booking
		err = svc.run(r, "transition booking", func(ctx context.Context) error {
			var err error
			updated, err = svc.Bookings.Transition(ctx, actor, id, ev)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusOK, toBookingResponse(*updated))
	}
}

func deleteBookingHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		err := svc.run(r, "delete booking", func(ctx context.Context) error {
			return svc.Bookings.DeleteBooking(ctx, actor, id)
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getBookingHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var b *booking.Booking
		err := svc.run(r, "get booking", func(ctx context.Context) error {
			var err error
			b, err = svc.Bookings.Get(ctx, actor, id)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		writeData(w, http.StatusOK, toBookingResponse(*b))
	}
}

func listBookingsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		c, err := bookingCriteria(r)
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		var page query.Page[booking.Booking]
		err = svc.run(r, "list bookings", func(ctx context.Context) error {
			var err error
			page, err = svc.Query.Bookings(ctx, actor, c)
			return err
		})
		if err != nil {
			handleError(w, r, svc.Logger, err)
			return
		}

		data := make([]BookingResponse, 0, len(page.Items))
		for _, b := range page.Items {
			data = append(data, toBookingResponse(b))
		}
		writeList(w, data, page.Pagination)
	}
}

func bookingCriteria(r *http.Request) (query.BookingCriteria, error) {
	var (
		c   query.BookingCriteria
		err error
	)
	q := r.URL.Query()
	c.Search = q.Get("search")

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := booking.ParseStatus(raw)
		if err != nil {
			return c, err
		}
		c.Status = &st
	}
	if raw := strings.TrimSpace(q.Get("slot")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c, apperr.Validationf("slot must be a valid UUID")
		}
		c.SlotID = &id
	}
	if c.Start, err = dateParam(r, "start"); err != nil {
		return c, err
	}
	if c.End, err = dateParam(r, "end"); err != nil {
		return c, err
	}
	c.Page, c.Limit, err = pageParams(r)
	return c, err
}

// Helpers

func requireActor(w http.ResponseWriter, r *http.Request) (session.Actor, bool) {
	a, ok := session.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return session.Actor{}, false
	}
	return a, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindValidation.String(), key+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateParam(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := slot.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func intParam(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Validationf("%s must be a positive integer", key)
	}
	return n, nil
}

func pageParams(r *http.Request) (page, limit int, err error) {
	if page, err = intParam(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(r, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func boolParam(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validationf("%s must be true or false", key)
	}
	return b, nil
}
