package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrOverlap is returned when the database rejects an overlapping active reservation.
	ErrOverlap = errors.New("reservation overlaps an active reservation")
)

// Store is the persistence boundary of the booking core.
//
// InScope runs fn as one atomic unit while holding the named scope locks. All
// writes made through the Tx become visible together when fn returns nil and
// are discarded otherwise. Two scopes sharing a key never run concurrently,
// which is what serializes validate-then-write per stylist.
type Store interface {
	InScope(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn without scope locks; writes through the Tx are rejected.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Catalog() Catalog
	Availability() AvailabilityReader
}

type Tx interface {
	Reservations() ReservationRepository
	Waitlist() WaitlistRepository
	// Emit records an outbound event that is published only if the scope commits.
	Emit(ctx context.Context, evt outbox.Event) error
}

type ReservationRepository interface {
	Get(ctx context.Context, id string) (model.Reservation, error)
	Insert(ctx context.Context, r model.Reservation) error
	Update(ctx context.Context, r model.Reservation) error
	// ListActive returns the stylist's pending, confirmed and in-progress reservations on date.
	ListActive(ctx context.Context, stylistID string, date clock.Date) ([]model.Reservation, error)
	ListByStylist(ctx context.Context, stylistID string, date clock.Date) ([]model.Reservation, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]model.Reservation, error)
}

type WaitlistRepository interface {
	Get(ctx context.Context, id string) (model.WaitlistEntry, error)
	Insert(ctx context.Context, e model.WaitlistEntry) error
	Update(ctx context.Context, e model.WaitlistEntry) error
	// ListByStylist returns entries whose primary stylist is stylistID, any status when none given.
	ListByStylist(ctx context.Context, stylistID string, statuses ...model.WaitlistStatus) ([]model.WaitlistEntry, error)
	// ListWanting returns open entries that name stylistID as primary or alternate.
	ListWanting(ctx context.Context, stylistID string) ([]model.WaitlistEntry, error)
	ListByClient(ctx context.Context, clientID string) ([]model.WaitlistEntry, error)
	// ListDue returns open entries whose offer or max wait has lapsed at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error)
}

type Catalog interface {
	Stylist(ctx context.Context, id string) (model.Stylist, error)
	Service(ctx context.Context, id string) (model.Service, error)
}

type AvailabilityReader interface {
	// Windows returns every active window that applies to date, date-specific and recurring.
	Windows(ctx context.Context, stylistID string, date clock.Date) ([]model.AvailabilityWindow, error)
}

// StylistKey is the scope key guarding a stylist's reservations and waitlist.
func StylistKey(stylistID string) string {
	return "stylist:" + stylistID
}

// StylistKeys returns the deduplicated, sorted scope keys for the given stylists.
// Locks are always taken in this order.
func StylistKeys(stylistIDs ...string) []string {
	seen := map[string]struct{}{}
	keys := make([]string, 0, len(stylistIDs))
	for _, id := range stylistIDs {
		if id == "" {
			continue
		}
		k := StylistKey(id)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKeys(keys []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dueAt(e model.WaitlistEntry, now time.Time) bool {
	if !e.Status.Open() {
		return false
	}
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return true
	}
	return e.Status == model.WaitlistOffered && e.CurrentOffer != nil && !now.Before(e.CurrentOffer.ExpiresAt)
}
