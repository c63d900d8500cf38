package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type CreateSlotRequest struct {
	Date      string `json:"date" validate:"required"`
	StartHour *int   `json:"start_hour" validate:"required"`
	EndHour   *int   `json:"end_hour" validate:"required"`
	Location  string `json:"location" validate:"required,max=200"`
	Capacity  *int   `json:"capacity" validate:"required"`
}

type UpdateSlotRequest struct {
	Date      *string `json:"date"`
	StartHour *int    `json:"start_hour"`
	EndHour   *int    `json:"end_hour"`
	Location  *string `json:"location" validate:"omitempty,max=200"`
	Capacity  *int    `json:"capacity"`
}

type CreateBookingRequest struct {
	SlotID    string `json:"slot_id" validate:"required,uuid"`
	PatientID string `json:"patient_id" validate:"omitempty,uuid"`
	Reason    string `json:"reason" validate:"max=1000"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	Date        string    `json:"date"`
	StartHour   int       `json:"start_hour"`
	EndHour     int       `json:"end_hour"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Available   int       `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSlotResponse(s slot.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		Date:        s.Date.Format(slot.DateLayout),
		StartHour:   s.StartHour,
		EndHour:     s.EndHour,
		Location:    s.Location,
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		Available:   s.Available(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

type BookingResponse struct {
	ID          uuid.UUID `json:"id"`
	SlotID      uuid.UUID `json:"slot_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toBookingResponse(b booking.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		SlotID:      b.SlotID,
		PatientID:   b.PatientID,
		Reason:      b.Reason,
		Status:      string(b.Status),
		RequestedAt: b.RequestedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}
