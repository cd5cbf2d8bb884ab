// Package waitlist orders waiting clients and keeps their queue positions current.
package waitlist

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type Config struct {
	MaxWait time.Duration
}

func DefaultConfig() Config {
	return Config{MaxWait: 30 * 24 * time.Hour}
}

type Queue struct {
	store  storage.Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewQueue(store storage.Store, logger *slog.Logger, cfg Config, now func() time.Time) *Queue {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultConfig().MaxWait
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{store: store, logger: logger, cfg: cfg, now: now}
}

// Less reports whether a is served before b: higher priority first, then
// earlier arrival.
func Less(a, b model.WaitlistEntry) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.AddedAt.Equal(b.AddedAt) {
		return a.AddedAt.Before(b.AddedAt)
	}
	return a.ID < b.ID
}

func Sort(entries []model.WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// Position counts the active peers of the same stylist that are served before e.
func Position(e model.WaitlistEntry, peers []model.WaitlistEntry) int {
	n := 0
	for _, p := range peers {
		if p.ID == e.ID || p.StylistID != e.StylistID || p.Status != model.WaitlistActive {
			continue
		}
		if Less(p, e) {
			n++
		}
	}
	return n
}

// Matches reports whether a freed slot suits the entry. The offered interval
// is the entry's own duration starting at the slot start.
func Matches(e model.WaitlistEntry, slot model.Slot) bool {
	if !e.Wants(slot.StylistID) || e.DurationMinutes <= 0 {
		return false
	}
	want := clock.Interval{Start: slot.Start, End: slot.Start.Add(e.DurationMinutes)}
	if !slot.Interval().Contains(want) {
		return false
	}

	p := e.Preferences
	dateOK := p.Date == slot.Date
	for _, d := range p.FlexibleDates {
		if d == slot.Date {
			dateOK = true
		}
	}
	if !dateOK {
		return false
	}

	if p.Start == slot.Start {
		return true
	}
	if p.TimeRange != nil && p.TimeRange.Contains(want) {
		return true
	}
	for _, m := range p.FlexibleTimes {
		if m == slot.Start {
			return true
		}
	}
	return false
}

type JoinRequest struct {
	ClientID    string
	StylistID   string
	ServiceIDs  []string
	Preferences model.Preferences
	Priority    model.Priority
	Notes       string
}

// Join puts a client on a stylist's waitlist.
func (q *Queue) Join(ctx context.Context, actor model.Actor, req JoinRequest) (model.WaitlistEntry, error) {
	if err := authorizeJoin(actor, &req); err != nil {
		return model.WaitlistEntry{}, err
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if err := checkJoin(req); err != nil {
		return model.WaitlistEntry{}, err
	}

	catalog := q.store.Catalog()
	for _, id := range append([]string{req.StylistID}, req.Preferences.AlternateStylists...) {
		if _, err := catalog.Stylist(ctx, id); err != nil {
			return model.WaitlistEntry{}, notFound(err, "stylist %s", id)
		}
	}
	duration := 0
	for _, id := range req.ServiceIDs {
		svc, err := catalog.Service(ctx, id)
		if err != nil {
			return model.WaitlistEntry{}, notFound(err, "service %s", id)
		}
		duration += svc.DurationMinutes
	}
	if duration <= 0 {
		return model.WaitlistEntry{}, apperr.Validation("requested services have no duration")
	}

	var out model.WaitlistEntry
	err := q.store.InScope(ctx, storage.StylistKeys(req.StylistID), func(ctx context.Context, tx storage.Tx) error {
		mine, err := tx.Waitlist().ListByClient(ctx, req.ClientID)
		if err != nil {
			return err
		}
		for _, e := range mine {
			if e.Status.Open() && e.StylistID == req.StylistID && e.Preferences.Date == req.Preferences.Date {
				return &apperr.ConflictError{Reason: "client is already waiting for this stylist on " + req.Preferences.Date.String()}
			}
		}

		now := q.now()
		e := model.WaitlistEntry{
			ID:              uuid.NewString(),
			ClientID:        req.ClientID,
			StylistID:       req.StylistID,
			ServiceIDs:      append([]string(nil), req.ServiceIDs...),
			DurationMinutes: duration,
			Preferences:     req.Preferences,
			Status:          model.WaitlistActive,
			Priority:        req.Priority,
			Notes:           strings.TrimSpace(req.Notes),
			AddedAt:         now,
			ExpiresAt:       now.Add(q.cfg.MaxWait),
			UpdatedAt:       now,
		}
		if err := q.Enqueue(ctx, tx, &e); err != nil {
			return err
		}
		out = e
		return q.Emit(ctx, tx, outbox.WaitlistJoined, e, "")
	})
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	q.logger.Info("waitlist joined",
		"entry_id", out.ID,
		"stylist_id", out.StylistID,
		"priority", string(out.Priority),
		"position", out.Position,
	)
	return out, nil
}

// Enqueue stores a new active entry and shifts the peers it overtakes.
// The caller holds the scope of e.StylistID.
func (q *Queue) Enqueue(ctx context.Context, tx storage.Tx, e *model.WaitlistEntry) error {
	peers, err := tx.Waitlist().ListByStylist(ctx, e.StylistID, model.WaitlistActive)
	if err != nil {
		return err
	}
	e.Position = Position(*e, peers)
	if err := tx.Waitlist().Insert(ctx, *e); err != nil {
		return err
	}
	return q.RecomputePositions(ctx, tx, e.StylistID)
}

// RecomputePositions renumbers the stylist's active entries from 0.
// The caller holds the stylist's scope.
func (q *Queue) RecomputePositions(ctx context.Context, tx storage.Tx, stylistID string) error {
	active, err := tx.Waitlist().ListByStylist(ctx, stylistID, model.WaitlistActive)
	if err != nil {
		return err
	}
	Sort(active)
	for i, e := range active {
		if e.Position == i {
			continue
		}
		e.Position = i
		if err := tx.Waitlist().Update(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FindCandidates returns the active entries a freed slot could be offered to,
// in serving order.
func (q *Queue) FindCandidates(ctx context.Context, tx storage.Tx, slot model.Slot) ([]model.WaitlistEntry, error) {
	wanting, err := tx.Waitlist().ListWanting(ctx, slot.StylistID)
	if err != nil {
		return nil, err
	}
	var out []model.WaitlistEntry
	for _, e := range wanting {
		if e.Status == model.WaitlistActive && Matches(e, slot) {
			out = append(out, e)
		}
	}
	Sort(out)
	return out, nil
}

func (q *Queue) Get(ctx context.Context, actor model.Actor, id string) (model.WaitlistEntry, error) {
	var out model.WaitlistEntry
	err := q.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		e, err := tx.Waitlist().Get(ctx, id)
		if err != nil {
			return notFound(err, "waitlist entry %s", id)
		}
		if err := Authorize(actor, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// List returns a stylist's open entries in serving order, offered entries first.
func (q *Queue) List(ctx context.Context, actor model.Actor, stylistID string) ([]model.WaitlistEntry, error) {
	if !actor.Privileged() && !(actor.Role == model.RoleStylist && actor.ID == stylistID) {
		return nil, apperr.Forbidden("cannot list the waitlist of stylist %s", stylistID)
	}
	var out []model.WaitlistEntry
	err := q.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.Waitlist().ListByStylist(ctx, stylistID, model.WaitlistOffered, model.WaitlistActive)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i].Status == model.WaitlistOffered, out[j].Status == model.WaitlistOffered
		if oi != oj {
			return oi
		}
		return Less(out[i], out[j])
	})
	return out, nil
}

func (q *Queue) ListForClient(ctx context.Context, actor model.Actor, clientID string) ([]model.WaitlistEntry, error) {
	if !actor.Privileged() && actor.ID != clientID {
		return nil, apperr.Forbidden("cannot list waitlist entries of client %s", clientID)
	}
	var out []model.WaitlistEntry
	err := q.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.Waitlist().ListByClient(ctx, clientID)
		return err
	})
	return out, err
}

// Authorize lets clients act on their own entries and stylists on entries that want them.
func Authorize(actor model.Actor, e model.WaitlistEntry) error {
	switch {
	case actor.Privileged():
		return nil
	case actor.Role == model.RoleClient && actor.ID == e.ClientID:
		return nil
	case actor.Role == model.RoleStylist && e.Wants(actor.ID):
		return nil
	}
	return apperr.Forbidden("%s %s may not act on waitlist entry %s", actor.Role, actor.ID, e.ID)
}

func authorizeJoin(actor model.Actor, req *JoinRequest) error {
	if !actor.Privileged() && (req.Priority == model.PriorityHigh || req.Priority == model.PriorityVIP) {
		return apperr.Forbidden("only admins may set %s priority", req.Priority)
	}
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return nil
	case model.RoleClient:
		if req.ClientID == "" {
			req.ClientID = actor.ID
		}
		if req.ClientID == actor.ID {
			return nil
		}
	case model.RoleStylist:
		if req.StylistID == actor.ID {
			return nil
		}
	}
	return apperr.Forbidden("%s %s may not add client %s to a waitlist", actor.Role, actor.ID, req.ClientID)
}

func checkJoin(req JoinRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return apperr.Validation("client_id is required")
	}
	if strings.TrimSpace(req.StylistID) == "" {
		return apperr.Validation("stylist_id is required")
	}
	if len(req.ServiceIDs) == 0 {
		return apperr.Validation("at least one service is required")
	}
	if !req.Priority.Valid() {
		return apperr.Validation("unknown priority %q", req.Priority)
	}
	p := req.Preferences
	if _, err := clock.ParseDate(p.Date.String()); err != nil {
		return apperr.Validation("preferred date: %v", err)
	}
	if !p.Start.Valid() {
		return apperr.Validation("invalid preferred start %d", p.Start)
	}
	for _, d := range p.FlexibleDates {
		if _, err := clock.ParseDate(d.String()); err != nil {
			return apperr.Validation("flexible date: %v", err)
		}
	}
	for _, m := range p.FlexibleTimes {
		if !m.Valid() {
			return apperr.Validation("invalid flexible time %d", m)
		}
	}
	if p.TimeRange != nil && !p.TimeRange.Valid() {
		return apperr.Validation("invalid time range %s", p.TimeRange)
	}
	for _, id := range p.AlternateStylists {
		if id == req.StylistID {
			return apperr.Validation("alternate stylists must differ from the preferred stylist")
		}
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}
