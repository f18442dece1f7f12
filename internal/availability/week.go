package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

type DaySlots struct {
	Date  time.Time
	Slots []Slot
}

type ProviderWeek struct {
	ProviderID uuid.UUID
	Days       []DaySlots
}

// Week builds the Monday-to-Sunday booking grid containing anyDate for each
// provider at the facility. Days before today are left empty and today only
// lists slots that have not started yet. An unknown facility or provider
// fails the whole grid.
func (e *Engine) Week(ctx context.Context, facilityID uuid.UUID, providerIDs []uuid.UUID, anyDate time.Time) (time.Time, []ProviderWeek, error) {
	weekStart := schedule.WeekStart(anyDate)
	now := e.Now()
	today := schedule.DateOf(now)
	nowTime := schedule.TimeOfDayOf(now)

	if err := e.checkFacility(ctx, facilityID); err != nil {
		return time.Time{}, nil, err
	}

	grid := make([]ProviderWeek, 0, len(providerIDs))
	for _, providerID := range providerIDs {
		if err := e.checkProvider(ctx, providerID); err != nil {
			return time.Time{}, nil, err
		}
		pw := ProviderWeek{ProviderID: providerID, Days: make([]DaySlots, 0, 7)}
		for i := 0; i < 7; i++ {
			day := weekStart.AddDate(0, 0, i)
			ds := DaySlots{Date: day}
			if !day.Before(today) {
				slots, err := e.allSlots(ctx, Key{ProviderID: providerID, FacilityID: facilityID, Date: day})
				if err != nil {
					return time.Time{}, nil, err
				}
				if day.Equal(today) {
					slots = startingAfter(slots, nowTime)
				}
				ds.Slots = slots
			}
			pw.Days = append(pw.Days, ds)
		}
		grid = append(grid, pw)
	}
	return weekStart, grid, nil
}

func startingAfter(slots []Slot, t schedule.TimeOfDay) []Slot {
	out := slots[:0]
	for _, s := range slots {
		if s.Start > t {
			out = append(out, s)
		}
	}
	return out
}
