package schedule

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultMinSlotMinutes is the shortest slot a template may declare unless configured otherwise.
const DefaultMinSlotMinutes = 5

func validateOwner(providerID, facilityID uuid.UUID) error {
	if providerID == uuid.Nil {
		return invalid("provider_id", "is required")
	}
	if facilityID == uuid.Nil {
		return invalid("facility_id", "is required")
	}
	return nil
}

func validateWindow(start, end TimeOfDay, slotMinutes, minSlot int) error {
	if !start.Valid() {
		return invalid("start_time", "must be within the day")
	}
	if !end.Valid() {
		return invalid("end_time", "must be within the day")
	}
	if start >= end {
		return invalid("start_time", "must be before end_time")
	}
	if minSlot <= 0 {
		minSlot = DefaultMinSlotMinutes
	}
	if slotMinutes < minSlot {
		return invalid("slot_duration", fmt.Sprintf("must be at least %d minutes", minSlot))
	}
	return nil
}

func (t *RecurringTemplate) Validate(minSlot int) error {
	if err := validateOwner(t.ProviderID, t.FacilityID); err != nil {
		return err
	}
	if t.Weekday < 0 || t.Weekday > 6 {
		return invalid("weekday", "must be between 0 (Monday) and 6 (Sunday)")
	}
	if t.IntervalWeeks < 1 {
		return invalid("interval_weeks", "must be at least 1")
	}
	if t.AnchorDate.IsZero() {
		return invalid("start_date", "is required")
	}
	if Weekday(t.AnchorDate) != t.Weekday {
		return invalid("start_date", "must fall on the chosen weekday")
	}
	return validateWindow(t.Start, t.End, t.SlotMinutes, minSlot)
}

func (t *OneOffTemplate) Validate(minSlot int) error {
	if err := validateOwner(t.ProviderID, t.FacilityID); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return invalid("date", "is required")
	}
	return validateWindow(t.Start, t.End, t.SlotMinutes, minSlot)
}

// Normalize clears the times of a full-day closure.
func (c *ClosureWindow) Normalize() {
	if c.FullDay {
		c.Start = nil
		c.End = nil
	}
}

func (c *ClosureWindow) Validate() error {
	if err := validateOwner(c.ProviderID, c.FacilityID); err != nil {
		return err
	}
	if c.Date.IsZero() {
		return invalid("date", "is required")
	}
	if c.FullDay {
		if c.Start != nil || c.End != nil {
			return invalid("start_time", "must be empty for full-day closures")
		}
		return nil
	}
	if c.Start == nil || c.End == nil {
		return invalid("start_time", "start_time and end_time are required for partial-day closures")
	}
	if !c.Start.Valid() || !c.End.Valid() {
		return invalid("end_time", "must be within the day")
	}
	if *c.Start >= *c.End {
		return invalid("start_time", "must be before end_time")
	}
	return nil
}
