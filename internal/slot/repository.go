package slot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists slots. Implementations never write booked_count except
// through IncrementBooked and DecrementBooked, and both apply their guard and
// the write as one atomic step.
type Repository interface {
	Insert(ctx context.Context, s Slot) (*Slot, error)
	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)

	// UpdateSchedule writes date, hours, location and capacity.
	UpdateSchedule(ctx context.Context, s Slot) (*Slot, error)
	// Delete removes a slot with no booked capacity together with any
	// bookings that still reference it.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, f Filter) ([]Slot, error)
	// FindOverlapping returns slots that overlap probe, excluding probe.ID.
	FindOverlapping(ctx context.Context, probe Slot) ([]Slot, error)

	// IncrementBooked adds one unit when booked_count < capacity and reports
	// whether it did.
	IncrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// DecrementBooked removes one unit when booked_count > 0 and reports
	// whether it did.
	DecrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
