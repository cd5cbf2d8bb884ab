package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
)

type Level string

const (
	LevelJunior Level = "junior"
	LevelSenior Level = "senior"
	LevelMaster Level = "master"
)

type Stylist struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Level  Level  `json:"level"`
	Active bool   `json:"active"`
}

type Service struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	DurationMinutes int               `json:"duration_minutes"`
	BasePrice       float64           `json:"base_price"`
	LevelPrices     map[Level]float64 `json:"level_prices,omitempty"`
	// PeakMultiplier of zero means "use the configured default".
	PeakMultiplier float64 `json:"peak_multiplier,omitempty"`
	Active         bool    `json:"active"`
}

// AvailabilityWindow is a stylist's working interval. A window with a Date
// applies to that date only; otherwise it recurs on Weekday.
type AvailabilityWindow struct {
	ID        string       `json:"id"`
	StylistID string       `json:"stylist_id"`
	Date      clock.Date   `json:"date,omitempty"`
	Weekday   time.Weekday `json:"weekday"`
	Start     clock.Minute `json:"start"`
	End       clock.Minute `json:"end"`
	Active    bool         `json:"active"`
}

func (w AvailabilityWindow) Interval() clock.Interval {
	return clock.Interval{Start: w.Start, End: w.End}
}

func (w AvailabilityWindow) Recurring() bool {
	return w.Date == ""
}

// AppliesTo reports whether the window covers d.
func (w AvailabilityWindow) AppliesTo(d clock.Date) bool {
	if w.Recurring() {
		return w.Weekday == d.Weekday()
	}
	return w.Date == d
}

// Slot is a stylist, a date and a half-open interval on that date.
type Slot struct {
	StylistID string       `json:"stylist_id"`
	Date      clock.Date   `json:"date"`
	Start     clock.Minute `json:"start"`
	End       clock.Minute `json:"end"`
}

func (s Slot) Interval() clock.Interval {
	return clock.Interval{Start: s.Start, End: s.End}
}

func (s Slot) Equal(o Slot) bool {
	return s.StylistID == o.StylistID && s.Date == o.Date && s.Start == o.Start && s.End == o.End
}

func (s Slot) String() string {
	return s.StylistID + " " + s.Date.String() + " " + s.Interval().String()
}

type Role string

const (
	RoleClient  Role = "client"
	RoleStylist Role = "stylist"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is used for sweeps and inbound payment events.
var System = Actor{ID: "system", Role: RoleSystem}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
