// Package session carries the authenticated actor through every core call.
package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RolePatient:
		return true
	}
	return false
}

// Actor is the caller a mutation is attributed to.
type Actor struct {
	ID   uuid.UUID
	Role Role
	Name string
}

// IsStaff reports whether the actor acts on behalf of the clinic.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

func (a Actor) IsPatient() bool {
	return a.Role == RolePatient
}

// RequireStaff rejects non-clinic actors for the named action.
func RequireStaff(a Actor, action string) error {
	if a.IsStaff() {
		return nil
	}
	return apperr.Forbiddenf("%s requires clinic staff, actor role is %q", action, a.Role)
}

type contextKey string

const actorKey contextKey = "session_actor"

// WithActor attaches the actor to ctx. Only the HTTP boundary does this; core
// operations take the actor as an explicit argument.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
