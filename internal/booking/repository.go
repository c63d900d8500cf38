package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/session"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// Repository contains all booking persistence needed by the manager.
type Repository interface {
	Insert(ctx context.Context, b Booking) (*Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)

	// UpdateStatus moves a booking from one status to another and fails with
	// a conflict if it is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, f Filter) ([]Booking, error)

	// Reconciliation
	CountConsumingBySlot(ctx context.Context) (map[uuid.UUID]int, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Patients is the read-only view of the patient collaborator.
type Patients interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	SearchIDs(ctx context.Context, term string) ([]uuid.UUID, error)
}

// Ledger is the part of the slot registry the manager may use. Capacity
// changes go through Reserve and Release only.
type Ledger interface {
	Get(ctx context.Context, id uuid.UUID) (*slot.Slot, error)
	Query(ctx context.Context, f slot.Filter) ([]slot.Slot, error)
	Reserve(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
	DeleteSlot(ctx context.Context, actor session.Actor, id uuid.UUID) error
}
