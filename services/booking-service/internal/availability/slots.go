package availability

import (
	"sort"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

// AvailableStarts returns start times within window, stepping by step minutes,
// where a booking of length duration would not overlap any busy interval and
// would start no earlier than earliest.
func AvailableStarts(window clock.Interval, duration, step int, busy []clock.Interval, earliest clock.Minute) []clock.Minute {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.Valid() {
		return nil
	}
	if window.Start.Add(duration) > window.End {
		return nil
	}

	var starts []clock.Minute
	for t := window.Start; t.Add(duration) <= window.End; t = t.Add(step) {
		if t < earliest {
			continue
		}
		if !OverlapsAny(clock.Interval{Start: t, End: t.Add(duration)}, busy) {
			starts = append(starts, t)
		}
	}
	return starts
}

func OverlapsAny(iv clock.Interval, busy []clock.Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// Effective returns the intervals that govern bookings on a date, sorted by
// start. Date-specific windows replace the recurring weekday schedule for that
// date. Windows are not merged: a booking must fit inside a single window.
func Effective(windows []model.AvailabilityWindow) []clock.Interval {
	var dated, recurring []clock.Interval
	for _, w := range windows {
		if !w.Active || !w.Interval().Valid() {
			continue
		}
		if w.Recurring() {
			recurring = append(recurring, w.Interval())
		} else {
			dated = append(dated, w.Interval())
		}
	}
	out := recurring
	if len(dated) > 0 {
		out = dated
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// Clip intersects each interval with bounds, dropping empty results.
func Clip(in []clock.Interval, bounds clock.Interval) []clock.Interval {
	var out []clock.Interval
	for _, iv := range in {
		if iv.Start < bounds.Start {
			iv.Start = bounds.Start
		}
		if iv.End > bounds.End {
			iv.End = bounds.End
		}
		if iv.Valid() {
			out = append(out, iv)
		}
	}
	return out
}

// Conflicts returns the active reservations overlapping iv, skipping excludeID.
func Conflicts(iv clock.Interval, reservations []model.Reservation, excludeID string) []model.Conflict {
	var out []model.Conflict
	for _, r := range reservations {
		if r.ID == excludeID || !r.Status.Active() {
			continue
		}
		if r.Interval().Overlaps(iv) {
			out = append(out, model.Conflict{ReservationID: r.ID, Start: r.Start, End: r.End})
		}
	}
	return out
}
