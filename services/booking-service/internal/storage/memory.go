package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

var errReadOnly = errors.New("write attempted in read-only view")

// MemoryStore keeps everything in process memory. It is used when no
// DATABASE_URL is configured and as the store behind the service tests.
type MemoryStore struct {
	locks *keyedLocks

	mu           sync.RWMutex
	reservations map[string]model.Reservation
	entries      map[string]model.WaitlistEntry
	events       []outbox.Event
	stylists     map[string]model.Stylist
	services     map[string]model.Service
	windows      []model.AvailabilityWindow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:        newKeyedLocks(),
		reservations: map[string]model.Reservation{},
		entries:      map[string]model.WaitlistEntry{},
		stylists:     map[string]model.Stylist{},
		services:     map[string]model.Service{},
	}
}

func (s *MemoryStore) InScope(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	release, err := s.locks.acquire(ctx, normalizeKeys(keys))
	if err != nil {
		return err
	}
	defer release()

	tx := newMemTx(s, false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return fn(ctx, newMemTx(s, true))
}

func (s *MemoryStore) Catalog() Catalog { return s }

func (s *MemoryStore) Availability() AvailabilityReader { return s }

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for id, e := range tx.entries {
		s.entries[id] = e
	}
	s.events = append(s.events, tx.events...)
}

// Events returns the committed events in emission order.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *MemoryStore) PutStylist(st model.Stylist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stylists[st.ID] = st
}

func (s *MemoryStore) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *MemoryStore) PutWindow(w model.AvailabilityWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
}

// PutReservation stores r as-is, bypassing validation. Used for seeding.
func (s *MemoryStore) PutReservation(r model.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r.Clone()
}

func (s *MemoryStore) Stylist(_ context.Context, id string) (model.Stylist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stylists[id]
	if !ok {
		return model.Stylist{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) Service(_ context.Context, id string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return model.Service{}, ErrNotFound
	}
	return svc, nil
}

func (s *MemoryStore) Windows(_ context.Context, stylistID string, date clock.Date) ([]model.AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AvailabilityWindow
	for _, w := range s.windows {
		if w.StylistID == stylistID && w.Active && w.AppliesTo(date) {
			out = append(out, w)
		}
	}
	return out, nil
}

// memTx stages writes until the scope commits.
type memTx struct {
	s            *MemoryStore
	readOnly     bool
	reservations map[string]model.Reservation
	entries      map[string]model.WaitlistEntry
	events       []outbox.Event
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		s:            s,
		readOnly:     readOnly,
		reservations: map[string]model.Reservation{},
		entries:      map[string]model.WaitlistEntry{},
	}
}

func (tx *memTx) Reservations() ReservationRepository { return memReservations{tx} }

func (tx *memTx) Waitlist() WaitlistRepository { return memWaitlist{tx} }

func (tx *memTx) Emit(_ context.Context, evt outbox.Event) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.events = append(tx.events, evt)
	return nil
}

func (tx *memTx) allReservations() []model.Reservation {
	tx.s.mu.RLock()
	out := make([]model.Reservation, 0, len(tx.s.reservations)+len(tx.reservations))
	for id, r := range tx.s.reservations {
		if _, staged := tx.reservations[id]; staged {
			continue
		}
		out = append(out, r.Clone())
	}
	tx.s.mu.RUnlock()
	for _, r := range tx.reservations {
		out = append(out, r.Clone())
	}
	return out
}

func (tx *memTx) allEntries() []model.WaitlistEntry {
	tx.s.mu.RLock()
	out := make([]model.WaitlistEntry, 0, len(tx.s.entries)+len(tx.entries))
	for id, e := range tx.s.entries {
		if _, staged := tx.entries[id]; staged {
			continue
		}
		out = append(out, e.Clone())
	}
	tx.s.mu.RUnlock()
	for _, e := range tx.entries {
		out = append(out, e.Clone())
	}
	return out
}

type memReservations struct{ tx *memTx }

func (m memReservations) Get(_ context.Context, id string) (model.Reservation, error) {
	if r, ok := m.tx.reservations[id]; ok {
		return r.Clone(), nil
	}
	m.tx.s.mu.RLock()
	defer m.tx.s.mu.RUnlock()
	r, ok := m.tx.s.reservations[id]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m memReservations) Insert(ctx context.Context, r model.Reservation) error {
	if m.tx.readOnly {
		return errReadOnly
	}
	if _, err := m.Get(ctx, r.ID); err == nil {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	return m.put(r)
}

func (m memReservations) Update(ctx context.Context, r model.Reservation) error {
	if m.tx.readOnly {
		return errReadOnly
	}
	if _, err := m.Get(ctx, r.ID); err != nil {
		return err
	}
	return m.put(r)
}

// put mirrors the database exclusion constraint on active intervals.
func (m memReservations) put(r model.Reservation) error {
	if r.Status.Active() {
		for _, other := range m.tx.allReservations() {
			if other.ID == r.ID || other.StylistID != r.StylistID || other.Date != r.Date || !other.Status.Active() {
				continue
			}
			if other.Interval().Overlaps(r.Interval()) {
				return ErrOverlap
			}
		}
	}
	m.tx.reservations[r.ID] = r.Clone()
	return nil
}

func (m memReservations) ListActive(_ context.Context, stylistID string, date clock.Date) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range m.tx.allReservations() {
		if r.StylistID == stylistID && r.Date == date && r.Status.Active() {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return out, nil
}

func (m memReservations) ListByStylist(_ context.Context, stylistID string, date clock.Date) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range m.tx.allReservations() {
		if r.StylistID == stylistID && (date == "" || r.Date == date) {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return out, nil
}

func (m memReservations) ListByClient(_ context.Context, clientID string, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range m.tx.allReservations() {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	sortReservations(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortReservations(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Date != rs[j].Date {
			return rs[i].Date < rs[j].Date
		}
		if rs[i].Start != rs[j].Start {
			return rs[i].Start < rs[j].Start
		}
		return rs[i].ID < rs[j].ID
	})
}

type memWaitlist struct{ tx *memTx }

func (m memWaitlist) Get(_ context.Context, id string) (model.WaitlistEntry, error) {
	if e, ok := m.tx.entries[id]; ok {
		return e.Clone(), nil
	}
	m.tx.s.mu.RLock()
	defer m.tx.s.mu.RUnlock()
	e, ok := m.tx.s.entries[id]
	if !ok {
		return model.WaitlistEntry{}, ErrNotFound
	}
	return e.Clone(), nil
}

func (m memWaitlist) Insert(ctx context.Context, e model.WaitlistEntry) error {
	if m.tx.readOnly {
		return errReadOnly
	}
	if _, err := m.Get(ctx, e.ID); err == nil {
		return fmt.Errorf("waitlist entry %s already exists", e.ID)
	}
	m.tx.entries[e.ID] = e.Clone()
	return nil
}

func (m memWaitlist) Update(ctx context.Context, e model.WaitlistEntry) error {
	if m.tx.readOnly {
		return errReadOnly
	}
	if _, err := m.Get(ctx, e.ID); err != nil {
		return err
	}
	m.tx.entries[e.ID] = e.Clone()
	return nil
}

func (m memWaitlist) ListByStylist(_ context.Context, stylistID string, statuses ...model.WaitlistStatus) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	for _, e := range m.tx.allEntries() {
		if e.StylistID == stylistID && hasStatus(e.Status, statuses) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m memWaitlist) ListWanting(_ context.Context, stylistID string) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	for _, e := range m.tx.allEntries() {
		if e.Status.Open() && e.Wants(stylistID) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m memWaitlist) ListByClient(_ context.Context, clientID string) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	for _, e := range m.tx.allEntries() {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m memWaitlist) ListDue(_ context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	for _, e := range m.tx.allEntries() {
		if dueAt(e, now) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(s model.WaitlistStatus, statuses []model.WaitlistStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func sortEntries(es []model.WaitlistEntry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].AddedAt.Equal(es[j].AddedAt) {
			return es[i].AddedAt.Before(es[j].AddedAt)
		}
		return es[i].ID < es[j].ID
	})
}

// keyedLocks hands out one lock per scope key. Waiting honours ctx.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: map[string]chan struct{}{}}
}

func (k *keyedLocks) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// acquire locks keys in the given (sorted) order.
func (k *keyedLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range keys {
		ch := k.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
