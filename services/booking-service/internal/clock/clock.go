// Package clock holds the calendar types used for booking: a civil date and a
// minute-resolution time of day.
package clock

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	// EndOfDay is 24:00, the latest value a Minute may take.
	EndOfDay Minute = 24 * 60
)

// Minute is a time of day counted in minutes after midnight.
type Minute int

// ParseMinute parses "HH:mm". "24:00" is accepted as the end of the day.
func ParseMinute(s string) (Minute, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", s)
	}
	return Minute(h*60 + m), nil
}

func MustMinute(s string) Minute {
	m, err := ParseMinute(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MinuteOf returns the time of day of t in t's location, truncated to the minute.
func MinuteOf(t time.Time) Minute {
	return Minute(t.Hour()*60 + t.Minute())
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m Minute) Valid() bool {
	return m >= 0 && m <= EndOfDay
}

func (m Minute) Add(minutes int) Minute {
	return m + Minute(minutes)
}

func (m Minute) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Minute) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseMinute(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Date is a civil date in DateLayout form. The empty Date means "unset".
type Date string

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return Date(s), nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

func (d Date) String() string { return string(d) }

// Midnight returns the start of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// At returns the instant at which m falls on d in loc.
func (d Date) At(m Minute, loc *time.Location) time.Time {
	mid := d.Midnight(loc)
	return time.Date(mid.Year(), mid.Month(), mid.Day(), 0, int(m), 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.Midnight(time.UTC).Weekday()
}

func (d Date) Weekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Midnight(time.UTC).AddDate(0, 0, n))
}
