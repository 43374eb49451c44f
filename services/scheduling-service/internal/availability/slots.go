package availability

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Window is a recurring weekly availability range in minutes from midnight.
type Window struct {
	Weekday     int
	StartMinute int
	EndMinute   int
}

// SlotStarts expands the recurring windows over every calendar day in
// [from, to] (inclusive) and returns the start times where a booking of the
// given duration fits entirely inside a window, starts strictly after now,
// and does not overlap any busy interval.
//
// All times are expected to share one location (the service timezone).
func SlotStarts(windows []Window, busy []Interval, from, to time.Time, duration, step time.Duration, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 || to.Before(from) {
		return nil
	}

	byWeekday := map[int][]Window{}
	for _, w := range windows {
		if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
			continue
		}
		byWeekday[w.Weekday] = append(byWeekday[w.Weekday], w)
	}
	if len(byWeekday) == 0 {
		return nil
	}

	var slots []time.Time
	day := truncateToDay(from)
	last := truncateToDay(to)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, w := range byWeekday[int(day.Weekday())] {
			// time.Date pins the wall-clock time; adding a duration to
			// midnight drifts by the offset change on DST transition days.
			windowStart := minuteOfDay(day, w.StartMinute)
			windowEnd := minuteOfDay(day, w.EndMinute)
			for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
				if !t.After(now) {
					continue
				}
				if overlapsAny(t, t.Add(duration), busy) {
					continue
				}
				slots = append(slots, t)
			}
		}
	}

	// Multiple windows on one weekday may enumerate out of order.
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func minuteOfDay(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
