package offers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/pricing"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

var (
	day    = clock.MustDate("2024-07-25")
	start  = time.Date(2024, 7, 24, 8, 0, 0, 0, time.UTC)
	admin  = model.Actor{ID: "a-1", Role: model.RoleAdmin}
	walkIn = model.Actor{ID: "c-9", Role: model.RoleClient}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store     *storage.MemoryStore
	clock     *fakeClock
	bookings  *reservation.Service
	queue     *waitlist.Queue
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, waitlist.DefaultConfig())
}

func newFixtureWith(t *testing.T, queueCfg waitlist.Config) *fixture {
	t.Helper()
	s := storage.NewMemoryStore()
	s.PutStylist(model.Stylist{ID: "st-1", Level: model.LevelSenior, Active: true})
	s.PutService(model.Service{ID: "svc-cut", DurationMinutes: 45, BasePrice: 40, Active: true})
	s.PutWindow(model.AvailabilityWindow{
		ID: "w-1", StylistID: "st-1", Date: day,
		Start: clock.MustMinute("09:00"), End: clock.MustMinute("17:00"), Active: true,
	})

	clk := &fakeClock{t: start}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := slots.NewValidator(slots.DefaultConfig(), s, clk.Now)
	bookings := reservation.NewService(s, validator, pricing.NewEngine(pricing.DefaultConfig()), nil, nil, logger, reservation.DefaultConfig(), clk.Now)
	queue := waitlist.NewQueue(s, logger, queueCfg, clk.Now)
	scheduler := NewScheduler(s, queue, bookings, validator, logger, DefaultConfig(), clk.Now)
	bookings.OnSlotFreed(scheduler)

	return &fixture{store: s, clock: clk, bookings: bookings, queue: queue, scheduler: scheduler}
}

func (f *fixture) book(t *testing.T, actor model.Actor, at string) model.Reservation {
	t.Helper()
	r, err := f.bookings.Create(context.Background(), actor, reservation.CreateRequest{
		ClientID:   actor.ID,
		StylistID:  "st-1",
		ServiceIDs: []string{"svc-cut"},
		Date:       day,
		Start:      clock.MustMinute(at),
	})
	if err != nil {
		t.Fatalf("Create at %s failed: %v", at, err)
	}
	return r
}

func (f *fixture) join(t *testing.T, clientID string, priority model.Priority) model.WaitlistEntry {
	t.Helper()
	e, err := f.queue.Join(context.Background(), admin, waitlist.JoinRequest{
		ClientID:    clientID,
		StylistID:   "st-1",
		ServiceIDs:  []string{"svc-cut"},
		Preferences: model.Preferences{Date: day, Start: clock.MustMinute("10:00")},
		Priority:    priority,
	})
	if err != nil {
		t.Fatalf("Join(%s) failed: %v", clientID, err)
	}
	f.clock.Advance(time.Minute)
	return e
}

func (f *fixture) entry(t *testing.T, id string) model.WaitlistEntry {
	t.Helper()
	e, err := f.queue.Get(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return e
}

// setup books 10:00 for a walk-in, queues a normal and a vip client for that
// slot, then cancels the booking so the slot is offered.
func setup(t *testing.T) (f *fixture, normal, vip model.WaitlistEntry, offeredAt time.Time) {
	t.Helper()
	f = newFixture(t)
	r := f.book(t, walkIn, "10:00")
	normal = f.join(t, "c-1", model.PriorityNormal)
	vip = f.join(t, "c-2", model.PriorityVIP)

	offeredAt = f.clock.Now()
	if _, err := f.bookings.Cancel(context.Background(), walkIn, r.ID, "plans changed"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	return f, f.entry(t, normal.ID), f.entry(t, vip.ID), offeredAt
}

func TestCancellationOffersSlotToTopCandidate(t *testing.T) {
	f, normal, vip, offeredAt := setup(t)

	if vip.Status != model.WaitlistOffered || vip.CurrentOffer == nil {
		t.Fatalf("expected vip to hold the offer, got %+v", vip)
	}
	want := model.Slot{StylistID: "st-1", Date: day, Start: clock.MustMinute("10:00"), End: clock.MustMinute("10:45")}
	if !vip.CurrentOffer.Slot.Equal(want) {
		t.Fatalf("unexpected offered slot %s", vip.CurrentOffer.Slot)
	}
	if !vip.CurrentOffer.ExpiresAt.Equal(offeredAt.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry two hours after the offer, got %s", vip.CurrentOffer.ExpiresAt)
	}
	if len(vip.Offers) != 1 || vip.Offers[0].Response != model.OfferPending {
		t.Fatalf("unexpected offer history %+v", vip.Offers)
	}
	if normal.Status != model.WaitlistActive || normal.CurrentOffer != nil || normal.Position != 0 {
		t.Fatalf("expected normal entry to stay active at position 0, got %+v", normal)
	}

	// A second notification for the same slot must not produce a second offer.
	again, err := f.scheduler.OfferSlot(context.Background(), want)
	if err != nil || again != nil {
		t.Fatalf("expected no second offer, got %+v (%v)", again, err)
	}
}

func TestConcurrentOfferSlotOffersOnce(t *testing.T) {
	f := newFixture(t)
	f.join(t, "c-1", model.PriorityNormal)
	f.join(t, "c-2", model.PriorityNormal)
	f.join(t, "c-3", model.PriorityNormal)
	slot := model.Slot{StylistID: "st-1", Date: day, Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00")}

	var wg sync.WaitGroup
	results := make(chan *model.WaitlistEntry, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := f.scheduler.OfferSlot(context.Background(), slot)
			if err != nil {
				t.Errorf("OfferSlot failed: %v", err)
			}
			results <- e
		}()
	}
	wg.Wait()
	close(results)

	offers := 0
	for e := range results {
		if e != nil {
			offers++
		}
	}
	if offers != 1 {
		t.Fatalf("expected exactly one offer, got %d", offers)
	}
	list, err := f.queue.List(context.Background(), admin, "st-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	offered := 0
	for _, e := range list {
		if e.Status == model.WaitlistOffered {
			offered++
		}
	}
	if offered != 1 {
		t.Fatalf("expected one offered entry, got %d", offered)
	}
}

func TestSweepReversesLapsedOffer(t *testing.T) {
	f, normal, vip, offeredAt := setup(t)

	f.clock.Advance(offeredAt.Add(2*time.Hour + time.Second).Sub(f.clock.Now()))
	res, err := f.scheduler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.OffersExpired != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	vip = f.entry(t, vip.ID)
	if vip.Status != model.WaitlistActive || vip.CurrentOffer != nil {
		t.Fatalf("expected vip back to active without an offer, got %+v", vip)
	}
	if vip.Offers[0].Response != model.OfferExpired {
		t.Fatalf("expected offer record expired, got %s", vip.Offers[0].Response)
	}

	// The slot moves on to the next candidate; the vip already let it lapse.
	normal = f.entry(t, normal.ID)
	if normal.Status != model.WaitlistOffered {
		t.Fatalf("expected slot re-offered to the next entry, got %+v", normal)
	}

	// Re-running is harmless.
	res, err = f.scheduler.Sweep(context.Background())
	if err != nil || res.OffersExpired != 0 {
		t.Fatalf("expected idempotent sweep, got %+v (%v)", res, err)
	}
}

func TestAcceptBooksReservation(t *testing.T) {
	f, normal, vip, _ := setup(t)
	client := model.Actor{ID: "c-2", Role: model.RoleClient}

	if _, _, err := f.scheduler.Accept(context.Background(), model.Actor{ID: "c-1", Role: model.RoleClient}, vip.ID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected another client to be forbidden, got %v", err)
	}

	e, r, err := f.scheduler.Accept(context.Background(), client, vip.ID)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if e.Status != model.WaitlistAccepted || e.ReservationID != r.ID || e.CurrentOffer != nil {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Offers[0].Response != model.OfferAccepted || e.Offers[0].ReservationID != r.ID {
		t.Fatalf("unexpected offer record %+v", e.Offers[0])
	}
	if r.Source != model.SourceWaitlist || r.WaitlistEntryID != vip.ID || r.ClientID != "c-2" || r.Start != clock.MustMinute("10:00") {
		t.Fatalf("unexpected reservation %+v", r)
	}

	if _, _, err := f.scheduler.Accept(context.Background(), client, vip.ID); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("expected second accept to fail with state error, got %v", err)
	}
	if normal = f.entry(t, normal.ID); normal.Status != model.WaitlistActive {
		t.Fatalf("expected normal entry untouched, got %+v", normal)
	}
}

func TestAcceptAfterExpiryFails(t *testing.T) {
	f, normal, vip, offeredAt := setup(t)
	f.clock.Advance(offeredAt.Add(2 * time.Hour).Sub(f.clock.Now()))

	e, _, err := f.scheduler.Accept(context.Background(), model.Actor{ID: "c-2", Role: model.RoleClient}, vip.ID)
	if !errors.Is(err, apperr.ErrExpiredOffer) {
		t.Fatalf("expected expired offer error, got %v", err)
	}
	if e.Status != model.WaitlistActive || e.Offers[0].Response != model.OfferExpired {
		t.Fatalf("expected expiry applied, got %+v", e)
	}
	if f.entry(t, normal.ID).Status != model.WaitlistOffered {
		t.Fatalf("expected the slot to move on to the next candidate")
	}
}

func TestAcceptWhenSlotTaken(t *testing.T) {
	f, normal, vip, _ := setup(t)
	f.book(t, model.Actor{ID: "c-8", Role: model.RoleClient}, "10:00")

	e, _, err := f.scheduler.Accept(context.Background(), admin, vip.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if e.Status != model.WaitlistActive || e.Offers[0].Response != model.OfferDeclined || e.Offers[0].Reason != "slot no longer available" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if f.entry(t, normal.ID).Status != model.WaitlistActive {
		t.Fatalf("taken slot must not be re-offered")
	}
}

func TestDeclineMovesToNextCandidate(t *testing.T) {
	f, normal, vip, _ := setup(t)

	e, err := f.scheduler.Decline(context.Background(), model.Actor{ID: "c-2", Role: model.RoleClient}, vip.ID, "")
	if err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if e.Status != model.WaitlistActive || e.Offers[0].Response != model.OfferDeclined {
		t.Fatalf("unexpected entry %+v", e)
	}
	if f.entry(t, normal.ID).Status != model.WaitlistOffered {
		t.Fatalf("expected the slot to be offered to the next candidate")
	}
	if _, err := f.scheduler.Decline(context.Background(), admin, vip.ID, ""); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("expected state error without an offer, got %v", err)
	}
}

func TestCancelEntryReleasesOffer(t *testing.T) {
	f, normal, vip, _ := setup(t)

	e, err := f.scheduler.Cancel(context.Background(), model.Actor{ID: "c-2", Role: model.RoleClient}, vip.ID, "found another salon")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if e.Status != model.WaitlistCancelled || e.CurrentOffer != nil {
		t.Fatalf("unexpected entry %+v", e)
	}
	if f.entry(t, normal.ID).Status != model.WaitlistOffered {
		t.Fatalf("expected the released slot to be offered on")
	}
	if _, err := f.scheduler.Cancel(context.Background(), admin, vip.ID, ""); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("expected state error on a cancelled entry, got %v", err)
	}
}

func TestSweepExpiresEntriesPastMaxWait(t *testing.T) {
	f, normal, vip, _ := setup(t)
	f.clock.Advance(31 * 24 * time.Hour)

	res, err := f.scheduler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.EntriesExpired != 2 {
		t.Fatalf("expected two expired entries, got %+v", res)
	}
	for _, id := range []string{normal.ID, vip.ID} {
		if e := f.entry(t, id); e.Status != model.WaitlistExpired || e.CurrentOffer != nil {
			t.Fatalf("expected entry %s expired, got %+v", id, e)
		}
	}
	if changed, err := f.scheduler.ExpireEntry(context.Background(), normal.ID); err != nil || changed {
		t.Fatalf("expected idempotent expiry, got %v %v", changed, err)
	}
}

// setupShortWait queues two clients with a three hour max wait, then frees the
// 10:00 slot two hours later. A third client joins just before the slot frees.
// The vip offer outlives the vip entry: the entry ends at 11:01, the offer at 12:03.
func setupShortWait(t *testing.T) (f *fixture, vip, late model.WaitlistEntry) {
	t.Helper()
	f = newFixtureWith(t, waitlist.Config{MaxWait: 3 * time.Hour})
	r := f.book(t, walkIn, "10:00")
	f.join(t, "c-1", model.PriorityNormal)
	vip = f.join(t, "c-2", model.PriorityVIP)
	f.clock.Advance(2 * time.Hour)
	late = f.join(t, "c-3", model.PriorityNormal)

	if _, err := f.bookings.Cancel(context.Background(), walkIn, r.ID, "plans changed"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	vip = f.entry(t, vip.ID)
	if vip.Status != model.WaitlistOffered || !vip.CurrentOffer.ExpiresAt.After(vip.ExpiresAt) {
		t.Fatalf("expected an offer outliving the entry, got %+v", vip)
	}
	f.clock.Advance(90 * time.Minute)
	return f, vip, late
}

func TestAcceptPastMaxWaitExpiresEntry(t *testing.T) {
	f, vip, late := setupShortWait(t)

	e, r, err := f.scheduler.Accept(context.Background(), model.Actor{ID: "c-2", Role: model.RoleClient}, vip.ID)
	if !errors.Is(err, apperr.ErrExpiredOffer) {
		t.Fatalf("expected expired offer error, got %v", err)
	}
	if r.ID != "" {
		t.Fatalf("expected no reservation, got %+v", r)
	}
	if e.Status != model.WaitlistExpired || e.CurrentOffer != nil || e.Offers[0].Response != model.OfferExpired {
		t.Fatalf("expected entry expired, got %+v", e)
	}
	if got := f.entry(t, late.ID); got.Status != model.WaitlistOffered {
		t.Fatalf("expected the slot to move on to the newest entry, got %+v", got)
	}
	if _, _, err := f.scheduler.Accept(context.Background(), admin, vip.ID); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("expected expired entry to stay terminal, got %v", err)
	}
}

func TestDeclinePastMaxWaitExpiresEntry(t *testing.T) {
	f, vip, late := setupShortWait(t)

	e, err := f.scheduler.Decline(context.Background(), model.Actor{ID: "c-2", Role: model.RoleClient}, vip.ID, "")
	if !errors.Is(err, apperr.ErrExpiredOffer) {
		t.Fatalf("expected expired offer error, got %v", err)
	}
	if e.Status != model.WaitlistExpired || e.Offers[0].Response != model.OfferExpired {
		t.Fatalf("expected entry expired rather than back in the pool, got %+v", e)
	}
	if got := f.entry(t, late.ID); got.Status != model.WaitlistOffered {
		t.Fatalf("expected the slot to move on to the newest entry, got %+v", got)
	}
}

func TestAlternateStylistCannotAcceptOtherStylistsOffer(t *testing.T) {
	f := newFixture(t)
	f.store.PutStylist(model.Stylist{ID: "st-2", Level: model.LevelJunior, Active: true})
	e, err := f.queue.Join(context.Background(), admin, waitlist.JoinRequest{
		ClientID:    "c-1",
		StylistID:   "st-1",
		ServiceIDs:  []string{"svc-cut"},
		Preferences: model.Preferences{Date: day, AlternateStylists: []string{"st-2"}},
	})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := f.scheduler.MakeOffer(context.Background(), admin, e.ID, model.Slot{StylistID: "st-1", Date: day, Start: clock.MustMinute("14:00")}); err != nil {
		t.Fatalf("MakeOffer failed: %v", err)
	}

	_, _, err = f.scheduler.Accept(context.Background(), model.Actor{ID: "st-2", Role: model.RoleStylist}, e.ID)
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected alternate stylist to be forbidden, got %v", err)
	}
	if got := f.entry(t, e.ID); got.Status != model.WaitlistOffered {
		t.Fatalf("expected offer left open, got %+v", got)
	}

	got, r, err := f.scheduler.Accept(context.Background(), model.Actor{ID: "st-1", Role: model.RoleStylist}, e.ID)
	if err != nil {
		t.Fatalf("Accept by the offered stylist failed: %v", err)
	}
	if got.Status != model.WaitlistAccepted || r.StylistID != "st-1" {
		t.Fatalf("unexpected result %+v %+v", got, r)
	}
}

func TestMakeOffer(t *testing.T) {
	f := newFixture(t)
	e := f.join(t, "c-1", model.PriorityNormal)
	slot := model.Slot{StylistID: "st-1", Date: day, Start: clock.MustMinute("14:00")}

	if _, err := f.scheduler.MakeOffer(context.Background(), model.Actor{ID: "c-1", Role: model.RoleClient}, e.ID, slot); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected client to be forbidden, got %v", err)
	}
	got, err := f.scheduler.MakeOffer(context.Background(), admin, e.ID, slot)
	if err != nil {
		t.Fatalf("MakeOffer failed: %v", err)
	}
	if got.Status != model.WaitlistOffered || got.CurrentOffer.Slot.End != clock.MustMinute("14:45") {
		t.Fatalf("unexpected entry %+v", got)
	}
	if _, err := f.scheduler.MakeOffer(context.Background(), admin, e.ID, slot); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("expected state error for an offered entry, got %v", err)
	}
}
