package availability

import (
	"testing"
	"time"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestSlotStarts_MondayMorningWindow(t *testing.T) {
	windows := []Window{{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60}}
	now := monday.AddDate(0, 0, -3)

	slots := SlotStarts(windows, nil, monday, monday.AddDate(0, 0, 6), time.Hour, time.Hour, now)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d (%v)", len(slots), slots)
	}
	for i, hour := range []int{9, 10, 11} {
		want := monday.Add(time.Duration(hour) * time.Hour)
		if !slots[i].Equal(want) {
			t.Fatalf("slot %d: got %s, want %s", i, slots[i].Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
}

func TestSlotStarts_NoWindows(t *testing.T) {
	if slots := SlotStarts(nil, nil, monday, monday.AddDate(0, 0, 7), time.Hour, time.Hour, monday); slots != nil {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestSlotStarts_SkipsPast(t *testing.T) {
	windows := []Window{{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60}}
	now := monday.Add(10 * time.Hour) // 10:00 on the Monday itself

	slots := SlotStarts(windows, nil, monday, monday, time.Hour, time.Hour, now)
	// 09:00 is past, 10:00 is not strictly future, 11:00 remains.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d (%v)", len(slots), slots)
	}
	if !slots[0].Equal(monday.Add(11 * time.Hour)) {
		t.Fatalf("expected 11:00, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestSlotStarts_ExcludesBookedIntervals(t *testing.T) {
	windows := []Window{{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60}}
	now := monday.AddDate(0, 0, -1)
	// A 90-minute booking starting 09:30 blocks both the 09:00 and 10:00 slots.
	busy := []Interval{{Start: monday.Add(9*time.Hour + 30*time.Minute), End: monday.Add(11 * time.Hour)}}

	slots := SlotStarts(windows, busy, monday, monday, time.Hour, time.Hour, now)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d (%v)", len(slots), slots)
	}
	if !slots[0].Equal(monday.Add(11 * time.Hour)) {
		t.Fatalf("expected 11:00, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestSlotStarts_DurationMustFitWindow(t *testing.T) {
	// 09:00-09:45 cannot hold a one-hour session.
	windows := []Window{{Weekday: 1, StartMinute: 9 * 60, EndMinute: 9*60 + 45}}
	now := monday.AddDate(0, 0, -1)

	if slots := SlotStarts(windows, nil, monday, monday, time.Hour, time.Hour, now); len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestSlotStarts_MultipleWindowsSameDaySorted(t *testing.T) {
	windows := []Window{
		{Weekday: 1, StartMinute: 14 * 60, EndMinute: 16 * 60},
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 10 * 60},
	}
	now := monday.AddDate(0, 0, -1)

	slots := SlotStarts(windows, nil, monday, monday, time.Hour, time.Hour, now)
	want := []time.Time{monday.Add(9 * time.Hour), monday.Add(14 * time.Hour), monday.Add(15 * time.Hour)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d (%v)", len(want), len(slots), slots)
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Fatalf("slot %d: got %s, want %s", i, slots[i], want[i])
		}
	}
}

func TestSlotStarts_WallClockHeldAcrossDSTChange(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 2026-03-08 is the US spring-forward Sunday: 02:00 EST jumps to 03:00 EDT,
	// so midnight plus nine hours lands at 10:00 wall clock.
	windows := []Window{{Weekday: 0, StartMinute: 9 * 60, EndMinute: 12 * 60}}
	day := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, loc)

	slots := SlotStarts(windows, nil, day, day, time.Hour, time.Hour, now)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d (%v)", len(slots), slots)
	}
	for i, hour := range []int{9, 10, 11} {
		if slots[i].Hour() != hour || slots[i].Minute() != 0 {
			t.Fatalf("slot %d: got %s, want %02d:00 wall clock", i, slots[i].Format(time.RFC3339), hour)
		}
	}
}

func TestSlotStarts_IgnoresInvalidWindows(t *testing.T) {
	windows := []Window{
		{Weekday: 1, StartMinute: 12 * 60, EndMinute: 9 * 60},  // inverted
		{Weekday: 1, StartMinute: -30, EndMinute: 10 * 60},     // negative start
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 10 * 60},  // valid
	}
	now := monday.AddDate(0, 0, -1)

	slots := SlotStarts(windows, nil, monday, monday, time.Hour, time.Hour, now)
	if len(slots) != 1 || !slots[0].Equal(monday.Add(9*time.Hour)) {
		t.Fatalf("expected single 09:00 slot, got %v", slots)
	}
}
