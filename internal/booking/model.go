package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
)

var statuses = []Status{StatusPending, StatusAccepted, StatusRejected, StatusCheckedIn, StatusCompleted}

// ConsumesCapacity reports whether a booking in this status holds one unit
// of its slot's capacity.
func (s Status) ConsumesCapacity() bool {
	return s == StatusAccepted || s == StatusCheckedIn || s == StatusCompleted
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// ParseStatus accepts the wire form ("checked_in") as well as the
// dashboard's display forms ("CheckedIn", "checked-in").
func ParseStatus(raw string) (Status, error) {
	key := normalize(raw)
	for _, s := range statuses {
		if normalize(string(s)) == key {
			return s, nil
		}
	}
	return "", apperr.Validationf("unknown booking status %q", raw)
}

type Event string

const (
	EventAccept   Event = "accept"
	EventReject   Event = "reject"
	EventCheckIn  Event = "check_in"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

var events = []Event{EventAccept, EventReject, EventCheckIn, EventComplete, EventCancel}

func ParseEvent(raw string) (Event, error) {
	key := normalize(raw)
	for _, e := range events {
		if normalize(string(e)) == key {
			return e, nil
		}
	}
	return "", apperr.Validationf("unknown booking event %q", raw)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

type Booking struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	Reason      string
	Status      Status
	RequestedAt time.Time
	UpdatedAt   time.Time
}

// Filter constrains List. Empty fields are unconstrained.
type Filter struct {
	Status     *Status
	SlotIDs    []uuid.UUID
	PatientIDs []uuid.UUID
}

func (f Filter) Matches(b Booking) bool {
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	if len(f.SlotIDs) > 0 && !contains(f.SlotIDs, b.SlotID) {
		return false
	}
	if len(f.PatientIDs) > 0 && !contains(f.PatientIDs, b.PatientID) {
		return false
	}
	return true
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

const (
	EventBookingRequested = "BOOKING_REQUESTED"
	EventBookingAccepted  = "BOOKING_ACCEPTED"
	EventBookingRejected  = "BOOKING_REJECTED"
	EventBookingCheckedIn = "BOOKING_CHECKED_IN"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingDeleted   = "BOOKING_DELETED"
)

func (e Event) logType() string {
	switch e {
	case EventAccept:
		return EventBookingAccepted
	case EventReject:
		return EventBookingRejected
	case EventCheckIn:
		return EventBookingCheckedIn
	case EventComplete:
		return EventBookingCompleted
	case EventCancel:
		return EventBookingCancelled
	}
	return "BOOKING_" + strings.ToUpper(string(e))
}
