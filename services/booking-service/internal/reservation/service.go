// Package reservation owns the reservation state machine and its audit trail.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/pricing"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type Config struct {
	ModificationWindow time.Duration
	CancellationPolicy time.Duration
	Location           *time.Location
}

func DefaultConfig() Config {
	return Config{
		ModificationWindow: 2 * time.Hour,
		CancellationPolicy: 24 * time.Hour,
		Location:           time.UTC,
	}
}

// SlotFreedListener hears about slots released by a cancellation or a reschedule.
type SlotFreedListener interface {
	SlotFreed(ctx context.Context, slot model.Slot) error
}

type Service struct {
	store     storage.Store
	validator *slots.Validator
	pricing   pricing.Engine
	discounts pricing.Discounts
	refunder  payments.Refunder
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
	listener  SlotFreedListener
}

func NewService(store storage.Store, validator *slots.Validator, engine pricing.Engine, discounts pricing.Discounts, refunder payments.Refunder, logger *slog.Logger, cfg Config, now func() time.Time) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if refunder == nil {
		refunder = payments.NoopRefunder{Logger: logger}
	}
	return &Service{
		store:     store,
		validator: validator,
		pricing:   engine,
		discounts: discounts,
		refunder:  refunder,
		logger:    logger,
		cfg:       cfg,
		now:       now,
	}
}

// OnSlotFreed registers the listener told about released slots.
func (s *Service) OnSlotFreed(l SlotFreedListener) {
	s.listener = l
}

type CreateRequest struct {
	ClientID        string
	StylistID       string
	ServiceIDs      []string
	Date            clock.Date
	Start           clock.Minute
	Tip             float64
	DiscountCode    string
	Notes           string
	Source          model.Source
	WaitlistEntryID string
}

// Create validates and books a reservation while holding the stylist's scope.
func (s *Service) Create(ctx context.Context, actor model.Actor, req CreateRequest) (model.Reservation, error) {
	var out model.Reservation
	err := s.store.InScope(ctx, storage.StylistKeys(req.StylistID), func(ctx context.Context, tx storage.Tx) error {
		r, err := s.BookInScope(ctx, tx, actor, req)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	s.logger.Info("reservation created",
		"reservation_id", out.ID,
		"stylist_id", out.StylistID,
		"date", out.Date.String(),
		"start", out.Start.String(),
		"source", string(out.Source),
	)
	return out, nil
}

// BookInScope creates a reservation inside a scope the caller already holds
// for req.StylistID. Waitlist acceptance uses it to book and resolve the
// offer atomically.
func (s *Service) BookInScope(ctx context.Context, tx storage.Tx, actor model.Actor, req CreateRequest) (model.Reservation, error) {
	if err := authorizeCreate(actor, &req); err != nil {
		return model.Reservation{}, err
	}
	if err := checkCreate(req); err != nil {
		return model.Reservation{}, err
	}

	stylist, err := s.store.Catalog().Stylist(ctx, req.StylistID)
	if err != nil {
		return model.Reservation{}, notFound(err, "stylist %s", req.StylistID)
	}
	if !stylist.Active {
		return model.Reservation{}, apperr.NotFound("stylist %s is not active", req.StylistID)
	}

	lines := make([]model.ServiceLine, 0, len(req.ServiceIDs))
	duration := 0
	for _, id := range req.ServiceIDs {
		svc, err := s.store.Catalog().Service(ctx, id)
		if err != nil {
			return model.Reservation{}, notFound(err, "service %s", id)
		}
		if !svc.Active || svc.DurationMinutes <= 0 {
			return model.Reservation{}, apperr.NotFound("service %s is not offered", id)
		}
		quote := s.pricing.Price(svc, stylist.Level, req.Date, req.Start)
		lines = append(lines, model.ServiceLine{
			ServiceID:       svc.ID,
			Name:            svc.Name,
			Price:           quote.Amount,
			DurationMinutes: svc.DurationMinutes,
		})
		duration += svc.DurationMinutes
	}

	end := req.Start.Add(duration)
	if end > clock.EndOfDay {
		return model.Reservation{}, apperr.Validation("services run past the end of the day")
	}

	check, err := s.validator.Validate(ctx, tx.Reservations(), slots.Request{
		StylistID: req.StylistID,
		Date:      req.Date,
		Start:     req.Start,
		End:       end,
	})
	if err != nil {
		return model.Reservation{}, err
	}
	if !check.Available {
		return model.Reservation{}, &apperr.ConflictError{Reason: check.Reason, Conflicts: check.Conflicts}
	}

	pct, err := s.discounts.Lookup(req.DiscountCode)
	if err != nil {
		return model.Reservation{}, err
	}
	code := ""
	if pct > 0 {
		code = strings.ToUpper(strings.TrimSpace(req.DiscountCode))
	}

	now := s.now()
	source := req.Source
	if source == "" {
		source = model.SourceDirect
	}
	r := model.Reservation{
		ID:              uuid.NewString(),
		ClientID:        req.ClientID,
		StylistID:       req.StylistID,
		Services:        lines,
		Date:            req.Date,
		Start:           req.Start,
		End:             end,
		Status:          model.StatusPending,
		Source:          source,
		WaitlistEntryID: req.WaitlistEntryID,
		Pricing:         s.pricing.Totals(lines, req.Tip, pct, code),
		Payment:         model.Payment{Status: model.PaymentUnpaid},
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
	}
	r.Record("created", actor.ID, now, map[string]string{
		"source": string(source),
		"slot":   r.Date.String() + " " + r.Interval().String(),
	})

	if err := tx.Reservations().Insert(ctx, r); err != nil {
		return model.Reservation{}, mapOverlap(err)
	}
	if err := s.emit(ctx, tx, outbox.ReservationCreated, r, nil); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

type Changes struct {
	Date  *clock.Date
	Start *clock.Minute
	Notes *string
	Tip   *float64
}

// Modify reschedules or edits a pending or confirmed reservation.
func (s *Service) Modify(ctx context.Context, actor model.Actor, id string, ch Changes) (model.Reservation, error) {
	var freed *model.Slot
	out, err := s.mutate(ctx, id, func(ctx context.Context, tx storage.Tx, r *model.Reservation) error {
		if err := authorize(actor, *r); err != nil {
			return err
		}
		if r.Status != model.StatusPending && r.Status != model.StatusConfirmed {
			return apperr.State("cannot modify a %s reservation", r.Status)
		}
		now := s.now()
		if s.startsAt(*r).Sub(now) < s.cfg.ModificationWindow {
			return apperr.State("reservations cannot be changed within %s of the start", s.cfg.ModificationWindow)
		}

		diff := map[string]string{}
		date, start := r.Date, r.Start
		if ch.Date != nil && *ch.Date != r.Date {
			d, err := clock.ParseDate(ch.Date.String())
			if err != nil {
				return apperr.Validation("%v", err)
			}
			date = d
		}
		if ch.Start != nil && *ch.Start != r.Start {
			if !ch.Start.Valid() {
				return apperr.Validation("invalid start %d", *ch.Start)
			}
			start = *ch.Start
		}
		if date != r.Date || start != r.Start {
			end := start.Add(r.DurationMinutes())
			if end > clock.EndOfDay {
				return apperr.Validation("services run past the end of the day")
			}
			check, err := s.validator.Validate(ctx, tx.Reservations(), slots.Request{
				StylistID:            r.StylistID,
				Date:                 date,
				Start:                start,
				End:                  end,
				ExcludeReservationID: r.ID,
			})
			if err != nil {
				return err
			}
			if !check.Available {
				return &apperr.ConflictError{Reason: check.Reason, Conflicts: check.Conflicts}
			}
			old := r.Slot()
			freed = &old
			if date != r.Date {
				diff["date"] = r.Date.String() + " -> " + date.String()
			}
			if start != r.Start {
				diff["start"] = r.Start.String() + " -> " + start.String()
			}
			diff["end"] = r.End.String() + " -> " + end.String()
			r.Date, r.Start, r.End = date, start, end
		}
		if ch.Notes != nil && strings.TrimSpace(*ch.Notes) != r.Notes {
			diff["notes"] = "updated"
			r.Notes = strings.TrimSpace(*ch.Notes)
		}
		if ch.Tip != nil && pricing.Round(*ch.Tip) != r.Pricing.Tip {
			if *ch.Tip < 0 {
				return apperr.Validation("tip cannot be negative")
			}
			r.Pricing = s.pricing.WithTip(r.Pricing, *ch.Tip)
			diff["tip"] = formatMoney(r.Pricing.Tip)
		}
		if len(diff) == 0 {
			return apperr.Validation("no changes requested")
		}

		r.Record("modified", actor.ID, now, diff)
		return s.emit(ctx, tx, outbox.ReservationModified, *r, diff)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	if freed != nil {
		s.slotFreed(ctx, *freed)
	}
	return out, nil
}

// Cancel cancels a pending or confirmed reservation. When the cancellation is
// inside policy and the reservation was paid, a refund is attempted after commit.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id, reason string) (model.Reservation, error) {
	out, err := s.mutate(ctx, id, func(ctx context.Context, tx storage.Tx, r *model.Reservation) error {
		if err := authorize(actor, *r); err != nil {
			return err
		}
		if !canTransition(r.Status, model.StatusCancelled) {
			return apperr.State("cannot cancel a %s reservation", r.Status)
		}
		now := s.now()
		hours := s.startsAt(*r).Sub(now).Hours()
		within := hours >= s.cfg.CancellationPolicy.Hours()
		r.Status = model.StatusCancelled
		r.Cancellation = &model.Cancellation{
			By:             actor.ID,
			Role:           actor.Role,
			At:             now,
			Reason:         strings.TrimSpace(reason),
			HoursBefore:    hours,
			WithinPolicy:   within,
			RefundEligible: within && r.Payment.Status == model.PaymentPaid,
		}
		r.Record("cancelled", actor.ID, now, map[string]string{
			"reason":          r.Cancellation.Reason,
			"within_policy":   boolString(within),
			"refund_eligible": boolString(r.Cancellation.RefundEligible),
		})
		return s.emit(ctx, tx, outbox.ReservationCancelled, *r, nil)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	s.logger.Info("reservation cancelled",
		"reservation_id", out.ID,
		"within_policy", out.Cancellation.WithinPolicy,
		"refund_eligible", out.Cancellation.RefundEligible,
	)

	if s.startsAt(out).After(s.now()) {
		s.slotFreed(ctx, out.Slot())
	}
	if out.Cancellation.RefundEligible {
		out = s.refund(ctx, out)
	}
	return out, nil
}

func (s *Service) Confirm(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	return s.transition(ctx, actor, id, model.StatusConfirmed, "confirmed", outbox.ReservationConfirmed, nil)
}

// Start checks the client in.
func (s *Service) Start(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	return s.transition(ctx, actor, id, model.StatusInProgress, "started", outbox.ReservationStarted,
		func(r *model.Reservation, now time.Time) error {
			r.CheckedInAt = &now
			return nil
		})
}

// Complete is valid from in_progress, or from confirmed once the start time has passed.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	return s.transition(ctx, actor, id, model.StatusCompleted, "completed", outbox.ReservationCompleted,
		func(r *model.Reservation, now time.Time) error {
			if r.Status == model.StatusConfirmed && now.Before(s.startsAt(*r)) {
				return apperr.State("cannot complete a confirmed reservation before its start time")
			}
			r.CheckedOutAt = &now
			return nil
		})
}

func (s *Service) NoShow(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	return s.transition(ctx, actor, id, model.StatusNoShow, "no_show", outbox.ReservationNoShow,
		func(r *model.Reservation, now time.Time) error {
			if now.Before(s.startsAt(*r)) {
				return apperr.State("cannot mark no-show before the start time")
			}
			return nil
		})
}

// Review attaches the client's rating to a completed reservation, once.
func (s *Service) Review(ctx context.Context, actor model.Actor, id string, rating int, comment string) (model.Reservation, error) {
	if rating < 1 || rating > 5 {
		return model.Reservation{}, apperr.Validation("rating must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > 1000 {
		return model.Reservation{}, apperr.Validation("comment is limited to 1000 characters")
	}
	return s.mutate(ctx, id, func(ctx context.Context, tx storage.Tx, r *model.Reservation) error {
		if actor.Role != model.RoleAdmin && !(actor.Role == model.RoleClient && actor.ID == r.ClientID) {
			return apperr.Forbidden("only the client may review reservation %s", r.ID)
		}
		if r.Status != model.StatusCompleted {
			return apperr.State("cannot review a %s reservation", r.Status)
		}
		if r.Review != nil {
			return apperr.State("reservation %s was already reviewed", r.ID)
		}
		now := s.now()
		r.Review = &model.Review{Rating: rating, Comment: comment, At: now}
		r.Record("reviewed", actor.ID, now, map[string]string{"rating": itoa(rating)})
		return s.emit(ctx, tx, outbox.ReservationReviewed, *r, nil)
	})
}

// MarkPaid records a captured payment. Replays of the same intent are no-ops.
func (s *Service) MarkPaid(ctx context.Context, id, intentID string, amount float64) (model.Reservation, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx storage.Tx, r *model.Reservation) error {
		if r.Payment.Status == model.PaymentPaid && r.Payment.IntentID == intentID {
			return nil
		}
		if r.Payment.Status != model.PaymentUnpaid {
			return apperr.State("payment for reservation %s is already %s", r.ID, r.Payment.Status)
		}
		now := s.now()
		r.Payment = model.Payment{Status: model.PaymentPaid, IntentID: intentID, Amount: pricing.Round(amount), PaidAt: &now}
		r.Record("paid", model.System.ID, now, map[string]string{"amount": formatMoney(r.Payment.Amount)})
		return s.emit(ctx, tx, outbox.ReservationPaid, *r, nil)
	})
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	var out model.Reservation
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.Reservations().Get(ctx, id)
		if err != nil {
			return notFound(err, "reservation %s", id)
		}
		if err := authorize(actor, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// ListForStylist returns a stylist's reservations, optionally for one date.
func (s *Service) ListForStylist(ctx context.Context, actor model.Actor, stylistID string, date clock.Date) ([]model.Reservation, error) {
	if !actor.Privileged() && !(actor.Role == model.RoleStylist && actor.ID == stylistID) {
		return nil, apperr.Forbidden("cannot list reservations of stylist %s", stylistID)
	}
	var out []model.Reservation
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.Reservations().ListByStylist(ctx, stylistID, date)
		return err
	})
	return out, err
}

func (s *Service) ListForClient(ctx context.Context, actor model.Actor, clientID string, limit int) ([]model.Reservation, error) {
	if !actor.Privileged() && actor.ID != clientID {
		return nil, apperr.Forbidden("cannot list reservations of client %s", clientID)
	}
	var out []model.Reservation
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.Reservations().ListByClient(ctx, clientID, limit)
		return err
	})
	return out, err
}

// transition applies a staff-driven status change.
func (s *Service) transition(ctx context.Context, actor model.Actor, id string, to model.ReservationStatus, action, eventType string, apply func(r *model.Reservation, now time.Time) error) (model.Reservation, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx storage.Tx, r *model.Reservation) error {
		if err := authorizeStaff(actor, *r); err != nil {
			return err
		}
		if !canTransition(r.Status, to) {
			return apperr.State("cannot move reservation from %s to %s", r.Status, to)
		}
		now := s.now()
		if apply != nil {
			if err := apply(r, now); err != nil {
				return err
			}
		}
		from := r.Status
		r.Status = to
		r.Record(action, actor.ID, now, map[string]string{"from": string(from)})
		return s.emit(ctx, tx, eventType, *r, nil)
	})
}

// mutate loads a reservation, applies fn under the stylist's scope and saves it.
func (s *Service) mutate(ctx context.Context, id string, fn func(ctx context.Context, tx storage.Tx, r *model.Reservation) error) (model.Reservation, error) {
	var stylistID string
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.Reservations().Get(ctx, id)
		if err != nil {
			return notFound(err, "reservation %s", id)
		}
		stylistID = r.StylistID
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	var out model.Reservation
	err = s.store.InScope(ctx, storage.StylistKeys(stylistID), func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.Reservations().Get(ctx, id)
		if err != nil {
			return notFound(err, "reservation %s", id)
		}
		before := len(r.Audit)
		if err := fn(ctx, tx, &r); err != nil {
			return err
		}
		if len(r.Audit) == before {
			out = r
			return nil
		}
		if err := tx.Reservations().Update(ctx, r); err != nil {
			return mapOverlap(err)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) refund(ctx context.Context, r model.Reservation) model.Reservation {
	amount := r.Payment.Amount
	if amount <= 0 {
		amount = r.Pricing.Total
	}
	refundID, refundErr := s.refunder.Refund(ctx, r.Payment.IntentID, amount, r.ID)
	if refundErr == nil && refundID == "" {
		return r
	}

	out, err := s.mutate(ctx, r.ID, func(ctx context.Context, tx storage.Tx, rr *model.Reservation) error {
		now := s.now()
		if refundErr != nil {
			rr.Payment.Status = model.PaymentRefundFailed
			rr.Record("refund_failed", model.System.ID, now, map[string]string{"error": refundErr.Error()})
			return s.emit(ctx, tx, outbox.RefundFailed, *rr, map[string]string{"error": refundErr.Error()})
		}
		rr.Payment.Status = model.PaymentRefunded
		rr.Payment.RefundID = refundID
		rr.Record("refunded", model.System.ID, now, map[string]string{
			"refund_id": refundID,
			"amount":    formatMoney(amount),
		})
		return nil
	})
	if err != nil {
		s.logger.Error("recording refund outcome failed", "err", err, "reservation_id", r.ID)
		return r
	}
	if refundErr != nil {
		s.logger.Error("refund failed", "err", refundErr, "reservation_id", r.ID)
	}
	return out
}

func (s *Service) slotFreed(ctx context.Context, slot model.Slot) {
	if s.listener == nil {
		return
	}
	if err := s.listener.SlotFreed(ctx, slot); err != nil {
		s.logger.Error("offering freed slot failed", "err", err, "slot", slot.String())
	}
}

func (s *Service) startsAt(r model.Reservation) time.Time {
	return r.Date.At(r.Start, s.cfg.Location)
}

func checkCreate(req CreateRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return apperr.Validation("client_id is required")
	}
	if strings.TrimSpace(req.StylistID) == "" {
		return apperr.Validation("stylist_id is required")
	}
	if len(req.ServiceIDs) == 0 {
		return apperr.Validation("at least one service is required")
	}
	if _, err := clock.ParseDate(req.Date.String()); err != nil {
		return apperr.Validation("%v", err)
	}
	if !req.Start.Valid() || req.Start == clock.EndOfDay {
		return apperr.Validation("invalid start %d", req.Start)
	}
	if req.Tip < 0 {
		return apperr.Validation("tip cannot be negative")
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func mapOverlap(err error) error {
	if errors.Is(err, storage.ErrOverlap) {
		return &apperr.ConflictError{Reason: "overlaps existing reservation"}
	}
	return err
}
