package schedule

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusScheduled  BookingStatus = "scheduled"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusArrived    BookingStatus = "arrived"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusScheduled:  {StatusConfirmed, StatusArrived, StatusCancelled},
	StatusConfirmed:  {StatusArrived},
	StatusArrived:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether a booking in this status occupies its slot.
func (s BookingStatus) Active() bool {
	return s.Valid() && s != StatusCancelled
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Facility struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Patient) DisplayName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.LastName + ", " + p.FirstName
}

// RecurringTemplate repeats on Weekday every IntervalWeeks weeks starting at AnchorDate.
type RecurringTemplate struct {
	ID            uuid.UUID
	ProviderID    uuid.UUID
	FacilityID    uuid.UUID
	Weekday       int
	IntervalWeeks int
	AnchorDate    time.Time
	Start         TimeOfDay
	End           TimeOfDay
	SlotMinutes   int
	CreatedAt     time.Time
}

type OneOffTemplate struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	FacilityID  uuid.UUID
	Date        time.Time
	Start       TimeOfDay
	End         TimeOfDay
	SlotMinutes int
	CreatedAt   time.Time
}

type ClosureWindow struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	FacilityID uuid.UUID
	Date       time.Time
	FullDay    bool
	Start      *TimeOfDay
	End        *TimeOfDay
	Reason     string
	CreatedAt  time.Time
}

type Booking struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	FacilityID  uuid.UUID
	PatientID   uuid.UUID
	PatientName string
	ScheduledAt time.Time
	Reason      string
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
