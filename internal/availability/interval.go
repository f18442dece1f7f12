package availability

import (
	"github.com/hackgods/availability-engine/internal/schedule"
)

// GenerateStarts splits [start, end) into back-to-back slots of the given length and
// returns their start times. A trailing remainder shorter than one slot is dropped.
func GenerateStarts(start, end schedule.TimeOfDay, minutes int) []schedule.TimeOfDay {
	if minutes <= 0 || start >= end {
		return nil
	}

	var starts []schedule.TimeOfDay
	for t := start; t.AddMinutes(minutes) <= end; t = t.AddMinutes(minutes) {
		starts = append(starts, t)
	}
	return starts
}
