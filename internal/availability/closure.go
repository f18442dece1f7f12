package availability

import (
	"github.com/hackgods/availability-engine/internal/schedule"
)

// ApplyClosures drops candidates that fall inside a closure window. A full-day
// closure empties the day. The input is not modified.
func ApplyClosures(c Candidates, closures []schedule.ClosureWindow) Candidates {
	for _, w := range closures {
		if w.FullDay {
			return Candidates{}
		}
	}

	out := c.clone()
	for _, w := range closures {
		if w.Start == nil || w.End == nil {
			continue
		}
		for start, minutes := range out {
			if overlaps(start, start.AddMinutes(minutes), *w.Start, *w.End) {
				delete(out, start)
			}
		}
	}
	return out
}

// overlaps treats both ranges as half-open, so ranges that only touch do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd schedule.TimeOfDay) bool {
	return aStart < bEnd && aEnd > bStart
}
