package clock

import (
	"sort"
	"strings"
	"time"
)

// Interval is the half-open range [Start, End) within one day.
type Interval struct {
	Start Minute `json:"start"`
	End   Minute `json:"end"`
}

func (i Interval) Valid() bool {
	return i.Start.Valid() && i.End.Valid() && i.End > i.Start
}

// Overlaps reports whether [i.Start,i.End) and [o.Start,o.End) share any minute.
// Touching intervals (one ends where the other starts) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i.Minutes()) * time.Minute
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Union merges overlapping or touching intervals and returns them sorted.
func Union(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start < sorted[b].Start })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func JoinIntervals(in []Interval) string {
	parts := make([]string, 0, len(in))
	for _, iv := range in {
		parts = append(parts, iv.String())
	}
	return strings.Join(parts, ", ")
}
