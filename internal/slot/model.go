package slot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const DateLayout = "2006-01-02"

// Slot is a bookable window on one calendar day at one location.
// BookedCount is maintained by the registry's Reserve and Release only.
type Slot struct {
	ID          uuid.UUID
	Date        time.Time
	StartHour   int
	EndHour     int
	Location    string
	Capacity    int
	BookedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s Slot) Available() int { return s.Capacity - s.BookedCount }

func (s Slot) Full() bool { return s.BookedCount >= s.Capacity }

// Overlaps reports whether both slots share date and location and their
// [start, end) hour ranges intersect.
func (s Slot) Overlaps(o Slot) bool {
	return s.Location == o.Location &&
		s.Date.Equal(o.Date) &&
		s.StartHour < o.EndHour &&
		o.StartHour < s.EndHour
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s %02d:00-%02d:00", s.Location, s.Date.Format(DateLayout), s.StartHour, s.EndHour)
}

// schedule carries the validated attributes of a slot.
type schedule struct {
	Location  string `validate:"required,max=200"`
	StartHour int    `validate:"gte=0,lte=23"`
	EndHour   int    `validate:"gte=0,lte=23,gtfield=StartHour"`
	Capacity  int    `validate:"gt=0"`
}

func (s Slot) schedule() schedule {
	return schedule{Location: s.Location, StartHour: s.StartHour, EndHour: s.EndHour, Capacity: s.Capacity}
}

// NewSlot is the input to CreateSlot.
type NewSlot struct {
	Date      time.Time
	StartHour int
	EndHour   int
	Location  string
	Capacity  int
}

// Patch updates the non-nil fields of a slot.
type Patch struct {
	Date      *time.Time
	StartHour *int
	EndHour   *int
	Location  *string
	Capacity  *int
}

func (p Patch) Empty() bool {
	return p.Date == nil && p.StartHour == nil && p.EndHour == nil && p.Location == nil && p.Capacity == nil
}

func (p Patch) apply(s Slot) Slot {
	if p.Date != nil {
		s.Date = Day(*p.Date)
	}
	if p.StartHour != nil {
		s.StartHour = *p.StartHour
	}
	if p.EndHour != nil {
		s.EndHour = *p.EndHour
	}
	if p.Location != nil {
		s.Location = strings.TrimSpace(*p.Location)
	}
	if p.Capacity != nil {
		s.Capacity = *p.Capacity
	}
	return s
}

// Filter constrains Query. Zero fields are unconstrained.
type Filter struct {
	Date     *time.Time
	From     *time.Time
	To       *time.Time
	Location string
	Search   string
}

// Matches applies the filter in memory with the same semantics as the SQL
// repository.
func (f Filter) Matches(s Slot) bool {
	if f.Date != nil && !s.Date.Equal(Day(*f.Date)) {
		return false
	}
	if f.From != nil && s.Date.Before(Day(*f.From)) {
		return false
	}
	if f.To != nil && s.Date.After(Day(*f.To)) {
		return false
	}
	if f.Location != "" && s.Location != f.Location {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(s.Location), needle) &&
			!strings.Contains(s.Date.Format(DateLayout), needle) {
			return false
		}
	}
	return true
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validationf("date %q must be formatted as YYYY-MM-DD", s)
	}
	return t, nil
}
