package booking

import (
	"fmt"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type CapacityEffect int

const (
	EffectNone CapacityEffect = iota
	EffectReserve
	EffectRelease
)

type Step struct {
	To     Status
	Effect CapacityEffect
}

type edge struct {
	from  Status
	event Event
}

var transitions = map[edge]Step{
	{StatusPending, EventAccept}:     {To: StatusAccepted, Effect: EffectReserve},
	{StatusPending, EventReject}:     {To: StatusRejected},
	{StatusPending, EventCancel}:     {To: StatusRejected},
	{StatusAccepted, EventCheckIn}:   {To: StatusCheckedIn},
	{StatusAccepted, EventCancel}:    {To: StatusRejected, Effect: EffectRelease},
	{StatusCheckedIn, EventComplete}: {To: StatusCompleted},
}

// TransitionError reports an event that is not allowed from the booking's
// current status.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a booking in status %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return apperr.ErrInvalidTransition }

// Next looks up the step for applying ev to a booking in status from.
func Next(from Status, ev Event) (Step, error) {
	step, ok := transitions[edge{from, ev}]
	if !ok {
		return Step{}, &TransitionError{From: from, Event: ev}
	}
	return step, nil
}

// staffOnly events are refused for patient actors regardless of state.
func staffOnly(ev Event) bool {
	return ev != EventCancel
}
