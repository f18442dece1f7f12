package availability

import (
	"bytes"
	"sort"
	"time"

	"github.com/hackgods/availability-engine/internal/schedule"
)

// Candidates maps a slot start time to its length in minutes.
type Candidates map[schedule.TimeOfDay]int

func (c Candidates) clone() Candidates {
	out := make(Candidates, len(c))
	for t, m := range c {
		out[t] = m
	}
	return out
}

func (c Candidates) sortedStarts() []schedule.TimeOfDay {
	starts := make([]schedule.TimeOfDay, 0, len(c))
	for t := range c {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

// RecurringApplies reports whether the template produces slots on date.
func RecurringApplies(t schedule.RecurringTemplate, date time.Time) bool {
	date = schedule.DateOf(date)
	anchor := schedule.DateOf(t.AnchorDate)
	if date.Before(anchor) {
		return false
	}
	if schedule.Weekday(date) != t.Weekday {
		return false
	}
	interval := t.IntervalWeeks
	if interval < 1 {
		interval = 1
	}
	weeks := schedule.DaysBetween(anchor, date) / 7
	return weeks%interval == 0
}

// ResolveCandidates expands every template that applies on date into one candidate set.
//
// Templates are merged recurring first, then one-off, each group ordered by ID.
// When two templates start a slot at the same time the later one sets the
// duration, so one-off templates override recurring ones.
func ResolveCandidates(recurring []schedule.RecurringTemplate, oneOff []schedule.OneOffTemplate, date time.Time) Candidates {
	date = schedule.DateOf(date)
	out := make(Candidates)

	rs := append([]schedule.RecurringTemplate(nil), recurring...)
	sort.Slice(rs, func(i, j int) bool { return bytes.Compare(rs[i].ID[:], rs[j].ID[:]) < 0 })
	for _, t := range rs {
		if !RecurringApplies(t, date) {
			continue
		}
		for _, start := range GenerateStarts(t.Start, t.End, t.SlotMinutes) {
			out[start] = t.SlotMinutes
		}
	}

	ones := append([]schedule.OneOffTemplate(nil), oneOff...)
	sort.Slice(ones, func(i, j int) bool { return bytes.Compare(ones[i].ID[:], ones[j].ID[:]) < 0 })
	for _, t := range ones {
		if !schedule.DateOf(t.Date).Equal(date) {
			continue
		}
		for _, start := range GenerateStarts(t.Start, t.End, t.SlotMinutes) {
			out[start] = t.SlotMinutes
		}
	}

	return out
}
