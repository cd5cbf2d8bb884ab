package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

var (
	day = clock.MustDate("2024-07-25")
	now = time.Date(2024, 7, 24, 8, 0, 0, 0, time.UTC)
)

type fixture struct {
	store     *storage.MemoryStore
	validator *Validator
}

func newFixture(t *testing.T, at time.Time) fixture {
	t.Helper()
	s := storage.NewMemoryStore()
	s.PutWindow(model.AvailabilityWindow{
		ID: "w-1", StylistID: "st-1", Date: day,
		Start: clock.MustMinute("09:00"), End: clock.MustMinute("17:00"), Active: true,
	})
	s.PutReservation(model.Reservation{
		ID: "r-existing", StylistID: "st-1", ClientID: "c-9", Date: day,
		Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00"), Status: model.StatusConfirmed,
	})
	return fixture{
		store:     s,
		validator: NewValidator(DefaultConfig(), s, func() time.Time { return at }),
	}
}

func (f fixture) validate(t *testing.T, start, end, exclude string) Result {
	t.Helper()
	var res Result
	err := f.store.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = f.validator.Validate(ctx, tx.Reservations(), Request{
			StylistID:            "st-1",
			Date:                 day,
			Start:                clock.MustMinute(start),
			End:                  clock.MustMinute(end),
			ExcludeReservationID: exclude,
		})
		return err
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return res
}

func TestValidateScenario(t *testing.T) {
	f := newFixture(t, now)

	res := f.validate(t, "10:30", "11:30", "")
	if res.Available {
		t.Fatal("expected 10:30-11:30 to be unavailable")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].ReservationID != "r-existing" {
		t.Fatalf("expected conflict with r-existing, got %+v", res.Conflicts)
	}
	if res.Conflicts[0].Start != clock.MustMinute("10:00") || res.Conflicts[0].End != clock.MustMinute("11:00") {
		t.Fatalf("unexpected conflict interval %+v", res.Conflicts[0])
	}

	res = f.validate(t, "11:00", "12:00", "")
	if !res.Available {
		t.Fatalf("expected 11:00-12:00 to be available, got %q", res.Reason)
	}
}

func TestValidateExcludesOwnReservation(t *testing.T) {
	f := newFixture(t, now)
	if res := f.validate(t, "10:30", "11:30", "r-existing"); !res.Available {
		t.Fatalf("expected own reservation to be ignored, got %q", res.Reason)
	}
}

func TestValidateCheckOrder(t *testing.T) {
	cases := []struct {
		name   string
		at     time.Time
		start  string
		end    string
		reason string
	}{
		{"past", time.Date(2024, 7, 25, 12, 0, 0, 0, time.UTC), "10:00", "11:00", "start time is in the past"},
		{"too far", time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC), "12:00", "13:00", "cannot book more than 90 days in advance"},
		{"too soon", time.Date(2024, 7, 25, 11, 0, 0, 0, time.UTC), "12:00", "13:00", "must book at least 2 hours in advance"},
		{"business hours", now, "19:30", "20:30", "outside business hours (08:00-20:00)"},
		{"stylist window", now, "08:00", "09:30", "outside stylist availability (09:00-17:00)"},
	}
	for _, tc := range cases {
		f := newFixture(t, tc.at)
		res := f.validate(t, tc.start, tc.end, "")
		if res.Available {
			t.Fatalf("%s: expected unavailable", tc.name)
		}
		if res.Reason != tc.reason {
			t.Fatalf("%s: expected reason %q, got %q", tc.name, tc.reason, res.Reason)
		}
	}
}

func TestValidateWithoutWindowsUsesBusinessHours(t *testing.T) {
	s := storage.NewMemoryStore()
	v := NewValidator(DefaultConfig(), s, func() time.Time { return now })
	_ = s.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		res, err := v.Validate(ctx, tx.Reservations(), Request{StylistID: "st-2", Date: day, Start: clock.MustMinute("08:00"), End: clock.MustMinute("09:00")})
		if err != nil || !res.Available {
			t.Fatalf("expected available, got %+v (%v)", res, err)
		}
		res, err = v.Validate(ctx, tx.Reservations(), Request{StylistID: "st-2", Date: day, Start: clock.MustMinute("07:30"), End: clock.MustMinute("08:30")})
		if err != nil || res.Available {
			t.Fatalf("expected business hours floor to apply, got %+v (%v)", res, err)
		}
		return nil
	})
}

func TestValidateRejectsMalformedInterval(t *testing.T) {
	s := storage.NewMemoryStore()
	v := NewValidator(DefaultConfig(), s, func() time.Time { return now })
	_ = s.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := v.Validate(ctx, tx.Reservations(), Request{StylistID: "st-1", Date: day, Start: clock.MustMinute("11:00"), End: clock.MustMinute("11:00")})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		return nil
	})
}

func TestValidateNeedsSingleWindow(t *testing.T) {
	f := newFixture(t, now)
	f.store.PutWindow(model.AvailabilityWindow{
		ID: "w-2", StylistID: "st-1", Date: day,
		Start: clock.MustMinute("17:00"), End: clock.MustMinute("19:00"), Active: true,
	})
	res := f.validate(t, "16:30", "17:30", "")
	if res.Available {
		t.Fatal("expected interval spanning two windows to be rejected")
	}
	if res.Reason != "outside stylist availability (09:00-19:00)" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestFreeStarts(t *testing.T) {
	f := newFixture(t, now)
	var starts []clock.Minute
	err := f.store.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		starts, err = f.validator.FreeStarts(ctx, tx.Reservations(), "st-1", day, 60)
		return err
	})
	if err != nil {
		t.Fatalf("FreeStarts failed: %v", err)
	}
	// 09:00-17:00 in 15 minute steps for a 60 minute booking, minus starts overlapping 10:00-11:00.
	if len(starts) == 0 || starts[0] != clock.MustMinute("09:00") {
		t.Fatalf("unexpected starts %v", starts)
	}
	for _, s := range starts {
		iv := clock.Interval{Start: s, End: s.Add(60)}
		if iv.Overlaps(clock.Interval{Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00")}) {
			t.Fatalf("start %s overlaps the existing reservation", s)
		}
		if s > clock.MustMinute("16:00") {
			t.Fatalf("start %s does not fit the window", s)
		}
	}
	if starts[1] != clock.MustMinute("11:00") {
		t.Fatalf("expected second start 11:00, got %s", starts[1])
	}
}
