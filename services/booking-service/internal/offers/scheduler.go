// Package offers turns freed slots into time-bounded waitlist offers and
// resolves them.
package offers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

// Booker books a reservation inside a scope the caller holds.
type Booker interface {
	BookInScope(ctx context.Context, tx storage.Tx, actor model.Actor, req reservation.CreateRequest) (model.Reservation, error)
}

type Config struct {
	OfferWindow time.Duration
	SweepBatch  int
}

func DefaultConfig() Config {
	return Config{OfferWindow: 2 * time.Hour, SweepBatch: 100}
}

type Scheduler struct {
	store     storage.Store
	queue     *waitlist.Queue
	booker    Booker
	validator *slots.Validator
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewScheduler(store storage.Store, queue *waitlist.Queue, booker Booker, validator *slots.Validator, logger *slog.Logger, cfg Config, now func() time.Time) *Scheduler {
	def := DefaultConfig()
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = def.OfferWindow
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:     store,
		queue:     queue,
		booker:    booker,
		validator: validator,
		logger:    logger,
		cfg:       cfg,
		now:       now,
	}
}

// SlotFreed offers a released slot to the top waiting candidate.
func (s *Scheduler) SlotFreed(ctx context.Context, slot model.Slot) error {
	_, err := s.OfferSlot(ctx, slot)
	return err
}

// OfferSlot offers slot to at most one candidate and returns that entry, or
// nil when nobody can take it or an offer for it is already out.
func (s *Scheduler) OfferSlot(ctx context.Context, slot model.Slot) (*model.WaitlistEntry, error) {
	var keys []string
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		candidates, err := s.queue.FindCandidates(ctx, tx, slot)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		ids := []string{slot.StylistID}
		for _, c := range candidates {
			ids = append(ids, c.StylistID)
		}
		keys = storage.StylistKeys(ids...)
		return nil
	})
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	locked := map[string]bool{}
	for _, k := range keys {
		locked[k] = true
	}

	var offered *model.WaitlistEntry
	err = s.store.InScope(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		taken, err := s.offerOutstanding(ctx, tx, slot)
		if err != nil || taken {
			return err
		}
		candidates, err := s.queue.FindCandidates(ctx, tx, slot)
		if err != nil {
			return err
		}
		now := s.now()
		for _, c := range candidates {
			if !locked[storage.StylistKey(c.StylistID)] || !now.Before(c.ExpiresAt) {
				continue
			}
			cut := model.Slot{
				StylistID: slot.StylistID,
				Date:      slot.Date,
				Start:     slot.Start,
				End:       slot.Start.Add(c.DurationMinutes),
			}
			if c.PassedOn(cut) {
				continue
			}
			check, err := s.validator.Validate(ctx, tx.Reservations(), slots.Request{
				StylistID: cut.StylistID,
				Date:      cut.Date,
				Start:     cut.Start,
				End:       cut.End,
			})
			if err != nil {
				return err
			}
			if !check.Available {
				continue
			}
			if err := s.makeOffer(ctx, tx, &c, cut, slot, now); err != nil {
				return err
			}
			offered = &c
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if offered != nil {
		s.logger.Info("offer made",
			"entry_id", offered.ID,
			"slot", offered.CurrentOffer.Slot.String(),
			"expires_at", offered.CurrentOffer.ExpiresAt,
		)
	}
	return offered, nil
}

// MakeOffer lets an admin offer a specific slot to an active entry.
func (s *Scheduler) MakeOffer(ctx context.Context, actor model.Actor, entryID string, slot model.Slot) (model.WaitlistEntry, error) {
	if !actor.Privileged() {
		return model.WaitlistEntry{}, apperr.Forbidden("only admins may make offers")
	}
	current, err := s.load(ctx, entryID)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if slot.StylistID == "" {
		slot.StylistID = current.StylistID
	}

	var out model.WaitlistEntry
	err = s.store.InScope(ctx, storage.StylistKeys(current.StylistID, slot.StylistID), func(ctx context.Context, tx storage.Tx) error {
		e, err := s.get(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != model.WaitlistActive {
			return apperr.State("cannot offer to a %s entry", e.Status)
		}
		if !e.Wants(slot.StylistID) {
			return apperr.Validation("entry %s does not want stylist %s", e.ID, slot.StylistID)
		}
		cut := slot
		cut.End = slot.Start.Add(e.DurationMinutes)
		if slot.End == 0 {
			slot.End = cut.End
		}
		if !slot.Interval().Contains(cut.Interval()) {
			return apperr.Validation("slot %s is shorter than the %d minutes requested", slot.Interval(), e.DurationMinutes)
		}
		taken, err := s.offerOutstanding(ctx, tx, cut)
		if err != nil {
			return err
		}
		if taken {
			return &apperr.ConflictError{Reason: "an offer for this slot is already outstanding"}
		}
		check, err := s.validator.Validate(ctx, tx.Reservations(), slots.Request{
			StylistID: cut.StylistID,
			Date:      cut.Date,
			Start:     cut.Start,
			End:       cut.End,
		})
		if err != nil {
			return err
		}
		if !check.Available {
			return &apperr.ConflictError{Reason: check.Reason, Conflicts: check.Conflicts}
		}
		if err := s.makeOffer(ctx, tx, &e, cut, slot, s.now()); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// Accept books the offered slot. A lapsed offer is expired instead, as is the
// whole entry once its maximum wait has passed; either way the call fails with
// ErrExpiredOffer. If the slot was taken meanwhile the offer
// is closed as declined, the entry returns to the pool and the conflict is
// returned.
func (s *Scheduler) Accept(ctx context.Context, actor model.Actor, entryID string) (model.WaitlistEntry, model.Reservation, error) {
	current, err := s.load(ctx, entryID)
	if err != nil {
		return model.WaitlistEntry{}, model.Reservation{}, err
	}
	if err := authorizeAccept(actor, current); err != nil {
		return model.WaitlistEntry{}, model.Reservation{}, err
	}

	var (
		out      model.WaitlistEntry
		booked   model.Reservation
		freed    *model.Slot
		lapsed   bool
		conflict error
	)
	keys := s.keysFor(current)
	err = s.store.InScope(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		e, err := s.get(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != model.WaitlistOffered || e.CurrentOffer == nil {
			return apperr.State("entry %s has no open offer (status %s)", e.ID, e.Status)
		}
		if !containsKey(keys, storage.StylistKey(e.CurrentOffer.Slot.StylistID)) {
			return apperr.State("offer for entry %s changed, retry", e.ID)
		}
		if err := authorizeAccept(actor, e); err != nil {
			return err
		}
		now := s.now()
		offer := *e.CurrentOffer
		if !now.Before(e.ExpiresAt) {
			if err := s.expireEntry(ctx, tx, &e, now); err != nil {
				return err
			}
			freed, lapsed = &offer.Freed, true
			out = e
			return nil
		}
		if !now.Before(offer.ExpiresAt) {
			if err := s.closeOffer(ctx, tx, &e, model.OfferExpired, "offer window elapsed", now); err != nil {
				return err
			}
			freed, lapsed = &offer.Freed, true
			out = e
			return nil
		}

		r, err := s.booker.BookInScope(ctx, tx, actor, reservation.CreateRequest{
			ClientID:        e.ClientID,
			StylistID:       offer.Slot.StylistID,
			ServiceIDs:      e.ServiceIDs,
			Date:            offer.Slot.Date,
			Start:           offer.Slot.Start,
			Source:          model.SourceWaitlist,
			WaitlistEntryID: e.ID,
		})
		if errors.Is(err, apperr.ErrConflict) {
			conflict = err
			if err := s.closeOffer(ctx, tx, &e, model.OfferDeclined, "slot no longer available", now); err != nil {
				return err
			}
			out = e
			return nil
		}
		if err != nil {
			return err
		}

		last := e.LatestOffer()
		last.Response = model.OfferAccepted
		last.RespondedAt = &now
		last.ReservationID = r.ID
		e.Status = model.WaitlistAccepted
		e.CurrentOffer = nil
		e.ReservationID = r.ID
		e.UpdatedAt = now
		if err := tx.Waitlist().Update(ctx, e); err != nil {
			return err
		}
		if err := s.queue.Emit(ctx, tx, outbox.OfferAccepted, e, ""); err != nil {
			return err
		}
		out, booked = e, r
		return nil
	})
	if err != nil {
		return model.WaitlistEntry{}, model.Reservation{}, err
	}
	if freed != nil {
		s.reoffer(ctx, *freed)
	}
	if lapsed {
		return out, model.Reservation{}, apperr.ExpiredOffer("offer for entry %s expired", out.ID)
	}
	if conflict != nil {
		return out, model.Reservation{}, conflict
	}
	s.logger.Info("offer accepted", "entry_id", out.ID, "reservation_id", booked.ID)
	return out, booked, nil
}

// Decline returns the entry to the pool and offers the slot to the next candidate.
func (s *Scheduler) Decline(ctx context.Context, actor model.Actor, entryID, reason string) (model.WaitlistEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "declined by client"
	}
	var expired bool
	out, freed, err := s.resolve(ctx, actor, entryID, func(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) (bool, error) {
		if e.Status != model.WaitlistOffered || e.CurrentOffer == nil {
			return false, apperr.State("entry %s has no open offer (status %s)", e.ID, e.Status)
		}
		if !now.Before(e.ExpiresAt) {
			expired = true
			return true, s.expireEntry(ctx, tx, e, now)
		}
		if !now.Before(e.CurrentOffer.ExpiresAt) {
			expired = true
			return true, s.closeOffer(ctx, tx, e, model.OfferExpired, "offer window elapsed", now)
		}
		return true, s.closeOffer(ctx, tx, e, model.OfferDeclined, reason, now)
	})
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if freed != nil {
		s.reoffer(ctx, *freed)
	}
	if expired {
		return out, apperr.ExpiredOffer("offer for entry %s expired", out.ID)
	}
	return out, nil
}

// Cancel takes an open entry off the waitlist.
func (s *Scheduler) Cancel(ctx context.Context, actor model.Actor, entryID, reason string) (model.WaitlistEntry, error) {
	reason = strings.TrimSpace(reason)
	out, freed, err := s.resolve(ctx, actor, entryID, func(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) (bool, error) {
		if !e.Status.Open() {
			return false, apperr.State("cannot cancel a %s entry", e.Status)
		}
		hadOffer := e.CurrentOffer != nil
		s.finish(e, model.WaitlistCancelled, model.OfferDeclined, "entry cancelled", now)
		if err := s.save(ctx, tx, *e, outbox.WaitlistCancelled, reason); err != nil {
			return false, err
		}
		return hadOffer, nil
	})
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if freed != nil {
		s.reoffer(ctx, *freed)
	}
	return out, nil
}

// ExpireOffer applies offer expiry when it is due. It reports whether the
// entry changed; re-running it is harmless.
func (s *Scheduler) ExpireOffer(ctx context.Context, entryID string) (bool, error) {
	var changed bool
	_, freed, err := s.resolve(ctx, model.System, entryID, func(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) (bool, error) {
		if e.Status != model.WaitlistOffered || e.CurrentOffer == nil || now.Before(e.CurrentOffer.ExpiresAt) {
			return false, nil
		}
		changed = true
		return true, s.closeOffer(ctx, tx, e, model.OfferExpired, "offer window elapsed", now)
	})
	if err != nil {
		return false, err
	}
	if freed != nil {
		s.reoffer(ctx, *freed)
	}
	return changed, nil
}

// ExpireEntry ends an open entry whose maximum wait has passed. Idempotent.
func (s *Scheduler) ExpireEntry(ctx context.Context, entryID string) (bool, error) {
	var changed bool
	_, freed, err := s.resolve(ctx, model.System, entryID, func(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) (bool, error) {
		if !e.Status.Open() || now.Before(e.ExpiresAt) {
			return false, nil
		}
		changed = true
		hadOffer := e.CurrentOffer != nil
		return hadOffer, s.expireEntry(ctx, tx, e, now)
	})
	if err != nil {
		return false, err
	}
	if freed != nil {
		s.reoffer(ctx, *freed)
	}
	return changed, nil
}

type SweepResult struct {
	OffersExpired  int
	EntriesExpired int
	Failed         int
}

// Sweep expires lapsed offers and entries past their maximum wait. A failure
// on one entry is logged and does not stop the rest.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var due []model.WaitlistEntry
	now := s.now()
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		due, err = tx.Waitlist().ListDue(ctx, now, s.cfg.SweepBatch)
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, e := range due {
		if !now.Before(e.ExpiresAt) {
			changed, err := s.ExpireEntry(ctx, e.ID)
			if err != nil {
				res.Failed++
				s.logger.Error("expiring waitlist entry failed", "err", err, "entry_id", e.ID)
				continue
			}
			if changed {
				res.EntriesExpired++
			}
			continue
		}
		changed, err := s.ExpireOffer(ctx, e.ID)
		if err != nil {
			res.Failed++
			s.logger.Error("expiring offer failed", "err", err, "entry_id", e.ID)
			continue
		}
		if changed {
			res.OffersExpired++
		}
	}
	return res, nil
}

// resolve runs fn on an entry under the scopes it touches. When fn reports
// that an offer was closed, the freed slot of that offer is returned for
// re-offering after commit.
func (s *Scheduler) resolve(ctx context.Context, actor model.Actor, entryID string, fn func(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) (bool, error)) (model.WaitlistEntry, *model.Slot, error) {
	current, err := s.load(ctx, entryID)
	if err != nil {
		return model.WaitlistEntry{}, nil, err
	}
	if err := waitlist.Authorize(actor, current); err != nil {
		return model.WaitlistEntry{}, nil, err
	}

	var (
		out   model.WaitlistEntry
		freed *model.Slot
	)
	err = s.store.InScope(ctx, s.keysFor(current), func(ctx context.Context, tx storage.Tx) error {
		e, err := s.get(ctx, tx, entryID)
		if err != nil {
			return err
		}
		var offer *model.Offer
		if e.CurrentOffer != nil {
			o := *e.CurrentOffer
			offer = &o
		}
		closed, err := fn(ctx, tx, &e, s.now())
		if err != nil {
			return err
		}
		if closed && offer != nil {
			freed = &offer.Freed
		}
		out = e
		return nil
	})
	if err != nil {
		return model.WaitlistEntry{}, nil, err
	}
	return out, freed, nil
}

func (s *Scheduler) makeOffer(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, cut, freed model.Slot, now time.Time) error {
	offer := model.Offer{Slot: cut, Freed: freed, OfferedAt: now, ExpiresAt: now.Add(s.cfg.OfferWindow)}
	e.Status = model.WaitlistOffered
	e.CurrentOffer = &offer
	e.Offers = append(e.Offers, model.OfferRecord{Offer: offer, Response: model.OfferPending})
	e.UpdatedAt = now
	if err := tx.Waitlist().Update(ctx, *e); err != nil {
		return err
	}
	if err := s.queue.RecomputePositions(ctx, tx, e.StylistID); err != nil {
		return err
	}
	return s.queue.Emit(ctx, tx, outbox.OfferMade, *e, "")
}

// closeOffer resolves the current offer and puts the entry back in the active pool.
func (s *Scheduler) closeOffer(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, resp model.OfferResponse, reason string, now time.Time) error {
	if last := e.LatestOffer(); last != nil && last.Response == model.OfferPending {
		last.Response = resp
		last.RespondedAt = &now
		last.Reason = reason
	}
	e.Status = model.WaitlistActive
	e.CurrentOffer = nil
	e.UpdatedAt = now
	eventType := outbox.OfferDeclined
	if resp == model.OfferExpired {
		eventType = outbox.OfferExpired
	}
	return s.save(ctx, tx, *e, eventType, reason)
}

// finish moves an entry to a terminal status, closing any pending offer.
func (s *Scheduler) finish(e *model.WaitlistEntry, status model.WaitlistStatus, resp model.OfferResponse, reason string, now time.Time) {
	if last := e.LatestOffer(); last != nil && last.Response == model.OfferPending {
		last.Response = resp
		last.RespondedAt = &now
		last.Reason = reason
	}
	e.Status = status
	e.CurrentOffer = nil
	e.UpdatedAt = now
}

// expireEntry ends an entry that reached its maximum wait.
func (s *Scheduler) expireEntry(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry, now time.Time) error {
	s.finish(e, model.WaitlistExpired, model.OfferExpired, "waitlist entry expired", now)
	return s.save(ctx, tx, *e, outbox.WaitlistExpired, "maximum wait reached")
}

func (s *Scheduler) save(ctx context.Context, tx storage.Tx, e model.WaitlistEntry, eventType, reason string) error {
	if err := tx.Waitlist().Update(ctx, e); err != nil {
		return err
	}
	if err := s.queue.RecomputePositions(ctx, tx, e.StylistID); err != nil {
		return err
	}
	return s.queue.Emit(ctx, tx, eventType, e, reason)
}

// offerOutstanding reports whether some entry holds a pending offer overlapping slot.
func (s *Scheduler) offerOutstanding(ctx context.Context, tx storage.Tx, slot model.Slot) (bool, error) {
	wanting, err := tx.Waitlist().ListWanting(ctx, slot.StylistID)
	if err != nil {
		return false, err
	}
	for _, e := range wanting {
		o := e.CurrentOffer
		if e.Status != model.WaitlistOffered || o == nil {
			continue
		}
		if o.Slot.StylistID == slot.StylistID && o.Slot.Date == slot.Date && o.Slot.Interval().Overlaps(slot.Interval()) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) reoffer(ctx context.Context, freed model.Slot) {
	if freed.StylistID == "" {
		return
	}
	if _, err := s.OfferSlot(ctx, freed); err != nil {
		s.logger.Error("re-offering slot failed", "err", err, "slot", freed.String())
	}
}

func (s *Scheduler) keysFor(e model.WaitlistEntry) []string {
	ids := []string{e.StylistID}
	if e.CurrentOffer != nil {
		ids = append(ids, e.CurrentOffer.Slot.StylistID)
	}
	return storage.StylistKeys(ids...)
}

func (s *Scheduler) load(ctx context.Context, id string) (model.WaitlistEntry, error) {
	var out model.WaitlistEntry
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = s.get(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *Scheduler) get(ctx context.Context, tx storage.Tx, id string) (model.WaitlistEntry, error) {
	e, err := tx.Waitlist().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.WaitlistEntry{}, apperr.NotFound("waitlist entry %s", id)
	}
	return e, err
}

// authorizeAccept narrows waitlist.Authorize: a stylist named only as an
// alternate on the entry may accept just the offers made for their own slots.
func authorizeAccept(actor model.Actor, e model.WaitlistEntry) error {
	if err := waitlist.Authorize(actor, e); err != nil {
		return err
	}
	if actor.Role == model.RoleStylist && e.CurrentOffer != nil && e.CurrentOffer.Slot.StylistID != actor.ID {
		return apperr.Forbidden("stylist %s may not accept an offer for stylist %s", actor.ID, e.CurrentOffer.Slot.StylistID)
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
