package availability

import (
	"testing"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

func iv(start, end string) clock.Interval {
	return clock.Interval{Start: clock.MustMinute(start), End: clock.MustMinute(end)}
}

func TestAvailableStarts_Basic(t *testing.T) {
	busy := []clock.Interval{iv("09:15", "09:45")}

	starts := AvailableStarts(iv("09:00", "10:00"), 15, 15, busy, 0)
	if len(starts) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(starts))
	}
	if starts[0] != clock.MustMinute("09:00") {
		t.Fatalf("expected first slot 09:00, got %s", starts[0])
	}
	if starts[1] != clock.MustMinute("09:45") {
		t.Fatalf("expected second slot 09:45, got %s", starts[1])
	}
}

func TestAvailableStarts_SkipsEarly(t *testing.T) {
	starts := AvailableStarts(iv("09:00", "10:00"), 15, 15, nil, clock.MustMinute("09:31"))
	// 09:00, 09:15, 09:30 start before the earliest allowed minute.
	if len(starts) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(starts))
	}
	if starts[0] != clock.MustMinute("09:45") {
		t.Fatalf("expected slot 09:45, got %s", starts[0])
	}
}

func TestAvailableStarts_DurationLongerThanWindow(t *testing.T) {
	if got := AvailableStarts(iv("09:00", "09:30"), 45, 15, nil, 0); got != nil {
		t.Fatalf("expected no slots, got %v", got)
	}
}

func TestEffectivePrefersDatedWindows(t *testing.T) {
	d := clock.MustDate("2024-07-25")
	windows := []model.AvailabilityWindow{
		{StylistID: "st-1", Weekday: d.Weekday(), Start: clock.MustMinute("09:00"), End: clock.MustMinute("17:00"), Active: true},
		{StylistID: "st-1", Date: d, Start: clock.MustMinute("12:00"), End: clock.MustMinute("14:00"), Active: true},
		{StylistID: "st-1", Date: d, Start: clock.MustMinute("13:30"), End: clock.MustMinute("15:00"), Active: true},
		{StylistID: "st-1", Date: d, Start: clock.MustMinute("18:00"), End: clock.MustMinute("19:00"), Active: false},
	}
	got := Effective(windows)
	if len(got) != 2 || got[0] != iv("12:00", "14:00") || got[1] != iv("13:30", "15:00") {
		t.Fatalf("unexpected effective windows %v", got)
	}

	got = Effective(windows[:1])
	if len(got) != 1 || got[0] != iv("09:00", "17:00") {
		t.Fatalf("unexpected recurring windows %v", got)
	}
}

func TestClip(t *testing.T) {
	got := Clip([]clock.Interval{iv("06:00", "09:00"), iv("19:00", "22:00"), iv("05:00", "07:00")}, iv("08:00", "20:00"))
	if len(got) != 2 || got[0] != iv("08:00", "09:00") || got[1] != iv("19:00", "20:00") {
		t.Fatalf("unexpected clip %v", got)
	}
}

func TestConflictsSkipsInactiveAndExcluded(t *testing.T) {
	rs := []model.Reservation{
		{ID: "a", Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00"), Status: model.StatusConfirmed},
		{ID: "b", Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00"), Status: model.StatusCancelled},
		{ID: "c", Start: clock.MustMinute("10:30"), End: clock.MustMinute("12:00"), Status: model.StatusPending},
	}
	got := Conflicts(iv("10:30", "11:30"), rs, "c")
	if len(got) != 1 || got[0].ReservationID != "a" {
		t.Fatalf("unexpected conflicts %+v", got)
	}
}
