// Package slots decides whether a stylist can take a booking for a given
// date and interval.
package slots

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type Config struct {
	MaxAdvanceDays  int
	MinAdvanceHours int
	// BusinessHours bound every booking, with or without stylist windows.
	BusinessHours clock.Interval
	Location      *time.Location
	// Step is the spacing in minutes between listed start times.
	Step int
}

func DefaultConfig() Config {
	return Config{
		MaxAdvanceDays:  90,
		MinAdvanceHours: 2,
		BusinessHours:   clock.Interval{Start: clock.MustMinute("08:00"), End: clock.MustMinute("20:00")},
		Location:        time.UTC,
		Step:            15,
	}
}

// ReservationLister is satisfied by storage.ReservationRepository.
type ReservationLister interface {
	ListActive(ctx context.Context, stylistID string, date clock.Date) ([]model.Reservation, error)
}

type Request struct {
	StylistID            string
	Date                 clock.Date
	Start                clock.Minute
	End                  clock.Minute
	ExcludeReservationID string
}

func (r Request) Interval() clock.Interval {
	return clock.Interval{Start: r.Start, End: r.End}
}

type Result struct {
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
}

type Validator struct {
	cfg          Config
	availability storage.AvailabilityReader
	now          func() time.Time
}

func NewValidator(cfg Config, windows storage.AvailabilityReader, now func() time.Time) *Validator {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if !cfg.BusinessHours.Valid() {
		cfg.BusinessHours = def.BusinessHours
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{cfg: cfg, availability: windows, now: now}
}

func (v *Validator) Location() *time.Location { return v.cfg.Location }

// Validate runs the booking checks in order and reports the first failure.
// To be race free the caller must hold the stylist's scope and pass that
// scope's reservation repository.
func (v *Validator) Validate(ctx context.Context, reservations ReservationLister, req Request) (Result, error) {
	if strings.TrimSpace(req.StylistID) == "" {
		return Result{}, apperr.Validation("stylist_id is required")
	}
	if _, err := clock.ParseDate(req.Date.String()); err != nil {
		return Result{}, apperr.Validation("%v", err)
	}
	if !req.Interval().Valid() {
		return Result{}, apperr.Validation("end %s must be after start %s", req.End, req.Start)
	}

	if reason, ok := v.checkTime(v.now(), req.Date, req.Start); !ok {
		return Result{Reason: reason}, nil
	}

	if !v.cfg.BusinessHours.Contains(req.Interval()) {
		return Result{Reason: fmt.Sprintf("outside business hours (%s)", v.cfg.BusinessHours)}, nil
	}

	windows, err := v.windows(ctx, req.StylistID, req.Date)
	if err != nil {
		return Result{}, err
	}
	if len(windows) > 0 && !containedInAny(req.Interval(), windows) {
		return Result{Reason: fmt.Sprintf("outside stylist availability (%s)", clock.JoinIntervals(clock.Union(windows)))}, nil
	}

	active, err := reservations.ListActive(ctx, req.StylistID, req.Date)
	if err != nil {
		return Result{}, err
	}
	if conflicts := availability.Conflicts(req.Interval(), active, req.ExcludeReservationID); len(conflicts) > 0 {
		return Result{Reason: "overlaps existing reservation", Conflicts: conflicts}, nil
	}
	return Result{Available: true}, nil
}

// FreeStarts lists the start times on date at which a booking of duration
// minutes would pass Validate.
func (v *Validator) FreeStarts(ctx context.Context, reservations ReservationLister, stylistID string, date clock.Date, duration int) ([]clock.Minute, error) {
	if duration <= 0 {
		return nil, apperr.Validation("duration must be positive")
	}
	windows, err := v.windows(ctx, stylistID, date)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		windows = []clock.Interval{v.cfg.BusinessHours}
	}
	windows = availability.Clip(windows, v.cfg.BusinessHours)

	active, err := reservations.ListActive(ctx, stylistID, date)
	if err != nil {
		return nil, err
	}
	busy := make([]clock.Interval, 0, len(active))
	for _, r := range active {
		busy = append(busy, r.Interval())
	}

	now := v.now()
	seen := map[clock.Minute]struct{}{}
	var out []clock.Minute
	for _, w := range windows {
		for _, start := range availability.AvailableStarts(w, duration, v.cfg.Step, busy, w.Start) {
			if _, dup := seen[start]; dup {
				continue
			}
			if _, ok := v.checkTime(now, date, start); ok {
				seen[start] = struct{}{}
				out = append(out, start)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v *Validator) checkTime(now time.Time, date clock.Date, start clock.Minute) (string, bool) {
	at := date.At(start, v.cfg.Location)
	switch {
	case at.Before(now):
		return "start time is in the past", false
	case at.After(now.AddDate(0, 0, v.cfg.MaxAdvanceDays)):
		return fmt.Sprintf("cannot book more than %d days in advance", v.cfg.MaxAdvanceDays), false
	case at.Sub(now) < time.Duration(v.cfg.MinAdvanceHours)*time.Hour:
		return fmt.Sprintf("must book at least %d hours in advance", v.cfg.MinAdvanceHours), false
	}
	return "", true
}

func (v *Validator) windows(ctx context.Context, stylistID string, date clock.Date) ([]clock.Interval, error) {
	if v.availability == nil {
		return nil, nil
	}
	ws, err := v.availability.Windows(ctx, stylistID, date)
	if err != nil {
		return nil, err
	}
	return availability.Effective(ws), nil
}

func containedInAny(iv clock.Interval, windows []clock.Interval) bool {
	for _, w := range windows {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}
