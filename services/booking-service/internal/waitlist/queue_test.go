package waitlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

var (
	day   = clock.MustDate("2024-07-25")
	admin = model.Actor{ID: "a-1", Role: model.RoleAdmin}
)

type fixture struct {
	store *storage.MemoryStore
	now   time.Time
	queue *Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storage.NewMemoryStore()
	s.PutStylist(model.Stylist{ID: "st-1", Level: model.LevelSenior, Active: true})
	s.PutStylist(model.Stylist{ID: "st-2", Level: model.LevelJunior, Active: true})
	s.PutService(model.Service{ID: "svc-cut", DurationMinutes: 45, BasePrice: 40, Active: true})
	s.PutService(model.Service{ID: "svc-color", DurationMinutes: 60, BasePrice: 80, Active: true})

	f := &fixture{store: s, now: time.Date(2024, 7, 24, 8, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.queue = NewQueue(s, logger, DefaultConfig(), func() time.Time { return f.now })
	return f
}

func (f *fixture) join(t *testing.T, clientID string, priority model.Priority, prefs model.Preferences) model.WaitlistEntry {
	t.Helper()
	if prefs.Date == "" {
		prefs.Date = day
	}
	e, err := f.queue.Join(context.Background(), admin, JoinRequest{
		ClientID:    clientID,
		StylistID:   "st-1",
		ServiceIDs:  []string{"svc-cut"},
		Preferences: prefs,
		Priority:    priority,
	})
	if err != nil {
		t.Fatalf("Join(%s) failed: %v", clientID, err)
	}
	f.now = f.now.Add(time.Minute)
	return e
}

func (f *fixture) reload(t *testing.T, id string) model.WaitlistEntry {
	t.Helper()
	e, err := f.queue.Get(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return e
}

func TestJoinAssignsPositionsByPriority(t *testing.T) {
	f := newFixture(t)
	at10 := model.Preferences{Start: clock.MustMinute("10:00")}

	normal := f.join(t, "c-1", model.PriorityNormal, at10)
	if normal.Position != 0 || normal.Status != model.WaitlistActive || normal.DurationMinutes != 45 {
		t.Fatalf("unexpected first entry %+v", normal)
	}
	if !normal.ExpiresAt.Equal(normal.AddedAt.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected 30 day max wait, got %s", normal.ExpiresAt)
	}

	vip := f.join(t, "c-2", model.PriorityVIP, at10)
	low := f.join(t, "c-3", model.PriorityLow, at10)
	normal2 := f.join(t, "c-4", model.PriorityNormal, at10)

	if vip.Position != 0 {
		t.Fatalf("expected vip at position 0, got %d", vip.Position)
	}
	want := map[string]int{vip.ID: 0, normal.ID: 1, normal2.ID: 2, low.ID: 3}
	for id, pos := range want {
		if got := f.reload(t, id).Position; got != pos {
			t.Fatalf("entry %s: expected position %d, got %d", id, pos, got)
		}
	}

	list, err := f.queue.List(context.Background(), admin, "st-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 4 || list[0].ID != vip.ID || list[3].ID != low.ID {
		t.Fatalf("unexpected list order %+v", list)
	}

	var joined int
	for _, e := range f.store.Events() {
		if e.EventType == outbox.WaitlistJoined {
			joined++
		}
	}
	if joined != 4 {
		t.Fatalf("expected 4 joined events, got %d", joined)
	}
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prefs := model.Preferences{Date: day, Start: clock.MustMinute("10:00")}
	client := model.Actor{ID: "c-1", Role: model.RoleClient}

	e, err := f.queue.Join(ctx, client, JoinRequest{StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: prefs})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if e.ClientID != "c-1" || e.Priority != model.PriorityNormal {
		t.Fatalf("unexpected entry %+v", e)
	}

	cases := []struct {
		name  string
		actor model.Actor
		req   JoinRequest
		want  error
	}{
		{"duplicate", client, JoinRequest{StylistID: "st-1", ServiceIDs: []string{"svc-color"}, Preferences: prefs}, apperr.ErrConflict},
		{"vip by client", client, JoinRequest{StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: prefs, Priority: model.PriorityVIP}, apperr.ErrAuthorization},
		{"for another client", client, JoinRequest{ClientID: "c-2", StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: prefs}, apperr.ErrAuthorization},
		{"unknown service", admin, JoinRequest{ClientID: "c-2", StylistID: "st-1", ServiceIDs: []string{"nope"}, Preferences: prefs}, apperr.ErrNotFound},
		{"unknown alternate", admin, JoinRequest{ClientID: "c-2", StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: model.Preferences{Date: day, AlternateStylists: []string{"st-9"}}}, apperr.ErrNotFound},
		{"bad date", admin, JoinRequest{ClientID: "c-2", StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: model.Preferences{Date: "25/07/2024"}}, apperr.ErrValidation},
		{"bad priority", admin, JoinRequest{ClientID: "c-2", StylistID: "st-1", ServiceIDs: []string{"svc-cut"}, Preferences: prefs, Priority: "urgent"}, apperr.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.queue.Join(ctx, tc.actor, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestMatches(t *testing.T) {
	tr := clock.Interval{Start: clock.MustMinute("13:00"), End: clock.MustMinute("16:00")}
	e := model.WaitlistEntry{
		StylistID:       "st-1",
		DurationMinutes: 60,
		Preferences: model.Preferences{
			Date:              day,
			Start:             clock.MustMinute("10:00"),
			FlexibleDates:     []clock.Date{day.AddDays(1)},
			FlexibleTimes:     []clock.Minute{clock.MustMinute("11:30")},
			TimeRange:         &tr,
			AlternateStylists: []string{"st-2"},
		},
	}
	slot := func(stylist string, d clock.Date, start, end string) model.Slot {
		return model.Slot{StylistID: stylist, Date: d, Start: clock.MustMinute(start), End: clock.MustMinute(end)}
	}

	cases := []struct {
		name string
		slot model.Slot
		want bool
	}{
		{"preferred start", slot("st-1", day, "10:00", "11:00"), true},
		{"longer slot", slot("st-1", day, "10:00", "12:00"), true},
		{"too short", slot("st-1", day, "10:00", "10:45"), false},
		{"flexible time", slot("st-1", day, "11:30", "12:30"), true},
		{"inside range", slot("st-1", day, "14:00", "15:00"), true},
		{"range end exclusive", slot("st-1", day, "15:00", "16:00"), true},
		{"past range end", slot("st-1", day, "15:30", "16:30"), false},
		{"no preference match", slot("st-1", day, "09:00", "10:00"), false},
		{"flexible date", slot("st-1", day.AddDays(1), "10:00", "11:00"), true},
		{"other date", slot("st-1", day.AddDays(2), "10:00", "11:00"), false},
		{"alternate stylist", slot("st-2", day, "10:00", "11:00"), true},
		{"unknown stylist", slot("st-3", day, "10:00", "11:00"), false},
	}
	for _, tc := range cases {
		if got := Matches(e, tc.slot); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFindCandidatesOrdersAndFilters(t *testing.T) {
	f := newFixture(t)
	at10 := model.Preferences{Start: clock.MustMinute("10:00")}
	first := f.join(t, "c-1", model.PriorityNormal, at10)
	f.join(t, "c-2", model.PriorityNormal, model.Preferences{Start: clock.MustMinute("15:00")})
	high := f.join(t, "c-3", model.PriorityHigh, at10)

	alt, err := f.queue.Join(context.Background(), admin, JoinRequest{
		ClientID:    "c-4",
		StylistID:   "st-2",
		ServiceIDs:  []string{"svc-cut"},
		Preferences: model.Preferences{Date: day, Start: clock.MustMinute("10:00"), AlternateStylists: []string{"st-1"}},
	})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	slot := model.Slot{StylistID: "st-1", Date: day, Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00")}
	var got []model.WaitlistEntry
	err = f.store.View(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		got, err = f.queue.FindCandidates(ctx, tx, slot)
		return err
	})
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != high.ID || got[1].ID != first.ID || got[2].ID != alt.ID {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestRecomputePositionsSkipsOfferedEntries(t *testing.T) {
	f := newFixture(t)
	at10 := model.Preferences{Start: clock.MustMinute("10:00")}
	a := f.join(t, "c-1", model.PriorityNormal, at10)
	b := f.join(t, "c-2", model.PriorityNormal, at10)

	err := f.store.InScope(context.Background(), storage.StylistKeys("st-1"), func(ctx context.Context, tx storage.Tx) error {
		e, err := tx.Waitlist().Get(ctx, a.ID)
		if err != nil {
			return err
		}
		e.Status = model.WaitlistOffered
		if err := tx.Waitlist().Update(ctx, e); err != nil {
			return err
		}
		return f.queue.RecomputePositions(ctx, tx, "st-1")
	})
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if got := f.reload(t, b.ID).Position; got != 0 {
		t.Fatalf("expected remaining active entry at 0, got %d", got)
	}
}
