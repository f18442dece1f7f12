package availability

import (
	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotBooked    SlotState = "booked"
)

// Slot is a computed unit of bookable time. It is rebuilt on every query.
type Slot struct {
	Start       schedule.TimeOfDay
	Minutes     int
	State       SlotState
	BookingID   *uuid.UUID
	PatientName string
}

// bookedIndex keys active bookings by their time of day. The first booking
// seen for a given time wins.
func bookedIndex(bookings []schedule.Booking) map[schedule.TimeOfDay]schedule.Booking {
	idx := make(map[schedule.TimeOfDay]schedule.Booking, len(bookings))
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		t := schedule.TimeOfDayOf(b.ScheduledAt)
		if _, ok := idx[t]; !ok {
			idx[t] = b
		}
	}
	return idx
}

// Available returns the candidate start times with no active booking, ascending.
// Matching is exact on time of day; bookings that do not line up with a
// candidate are ignored.
func Available(c Candidates, bookings []schedule.Booking) []schedule.TimeOfDay {
	booked := bookedIndex(bookings)
	free := make([]schedule.TimeOfDay, 0, len(c))
	for _, start := range c.sortedStarts() {
		if _, ok := booked[start]; ok {
			continue
		}
		free = append(free, start)
	}
	return free
}

// Annotate returns every candidate, ascending, marked available or booked.
func Annotate(c Candidates, bookings []schedule.Booking) []Slot {
	booked := bookedIndex(bookings)
	slots := make([]Slot, 0, len(c))
	for _, start := range c.sortedStarts() {
		s := Slot{Start: start, Minutes: c[start], State: SlotAvailable}
		if b, ok := booked[start]; ok {
			id := b.ID
			s.State = SlotBooked
			s.BookingID = &id
			s.PatientName = b.PatientName
		}
		slots = append(slots, s)
	}
	return slots
}
