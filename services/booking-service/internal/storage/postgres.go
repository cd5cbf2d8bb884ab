package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

// PostgresStore keeps reservations and waitlist entries as JSONB documents
// next to the columns used for locking and lookups. Scope keys map to
// transaction-level advisory locks, and the reservations_no_overlap exclusion
// constraint rejects overlapping active reservations.
type PostgresStore struct {
	pool    *db.Pool
	outbox  *outbox.Repository
	catalog *pgCatalog
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo, catalog: &pgCatalog{pool: pool}}
}

func (s *PostgresStore) InScope(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, key := range normalizeKeys(keys) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
				return err
			}
		}
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
}

func (s *PostgresStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Catalog() Catalog { return s.catalog }

func (s *PostgresStore) Availability() AvailabilityReader { return s.catalog }

type pgTx struct {
	tx       pgx.Tx
	outbox   *outbox.Repository
	readOnly bool
}

func (t *pgTx) Reservations() ReservationRepository { return pgReservations{tx: t.tx} }

func (t *pgTx) Waitlist() WaitlistRepository { return pgWaitlist{tx: t.tx} }

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	if t.readOnly || t.outbox == nil {
		return errReadOnly
	}
	return t.outbox.Insert(ctx, t.tx, evt)
}

type pgReservations struct{ tx pgx.Tx }

const reservationColumns = `doc`

func (r pgReservations) Get(ctx context.Context, id string) (model.Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	if err != nil {
		return model.Reservation{}, err
	}
	out, err := scanReservations(rows)
	if err != nil {
		return model.Reservation{}, err
	}
	if len(out) == 0 {
		return model.Reservation{}, ErrNotFound
	}
	return out[0], nil
}

func (r pgReservations) Insert(ctx context.Context, res model.Reservation) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `
		INSERT INTO reservations
			(id, client_id, stylist_id, date, start_min, end_min, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4::text::date, $5, $6, $7, $8, $9, $10)
	`, res.ID, res.ClientID, res.StylistID, res.Date.String(), int(res.Start), int(res.End), string(res.Status), doc,
		res.CreatedAt, res.UpdatedAt)
	return mapWriteErr(err)
}

func (r pgReservations) Update(ctx context.Context, res model.Reservation) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE reservations
		SET date = $2::text::date,
			start_min = $3,
			end_min = $4,
			status = $5,
			doc = $6,
			updated_at = $7
		WHERE id = $1
	`, res.ID, res.Date.String(), int(res.Start), int(res.End), string(res.Status), doc, res.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgReservations) ListActive(ctx context.Context, stylistID string, date clock.Date) ([]model.Reservation, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE stylist_id = $1
			AND date = $2::text::date
			AND status IN ('pending', 'confirmed', 'in_progress')
		ORDER BY start_min ASC, id ASC
	`, stylistID, date.String())
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r pgReservations) ListByStylist(ctx context.Context, stylistID string, date clock.Date) ([]model.Reservation, error) {
	query, args, err := stylistReservationsQuery(stylistID, date).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r pgReservations) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE client_id = $1
		ORDER BY date ASC, start_min ASC, id ASC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var res model.Reservation
		if err := json.Unmarshal(doc, &res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// psql builds the queries whose WHERE clause depends on optional filters.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func stylistReservationsQuery(stylistID string, date clock.Date) sq.SelectBuilder {
	q := psql.Select(reservationColumns).
		From("reservations").
		Where(sq.Eq{"stylist_id": stylistID})
	if date != "" {
		q = q.Where("date = ?::date", date.String())
	}
	return q.OrderBy("date ASC", "start_min ASC", "id ASC")
}

func stylistEntriesQuery(stylistID string, statuses []model.WaitlistStatus) sq.SelectBuilder {
	q := psql.Select("doc").
		From("waitlist_entries").
		Where(sq.Eq{"stylist_id": stylistID})
	if len(statuses) > 0 {
		wanted := make([]string, 0, len(statuses))
		for _, st := range statuses {
			wanted = append(wanted, string(st))
		}
		q = q.Where(sq.Eq{"status": wanted})
	}
	return q.OrderBy("added_at ASC", "id ASC")
}

type pgWaitlist struct{ tx pgx.Tx }

func (w pgWaitlist) Get(ctx context.Context, id string) (model.WaitlistEntry, error) {
	rows, err := w.tx.Query(ctx, `SELECT doc FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	out, err := scanEntries(rows)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if len(out) == 0 {
		return model.WaitlistEntry{}, ErrNotFound
	}
	return out[0], nil
}

func (w pgWaitlist) Insert(ctx context.Context, e model.WaitlistEntry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.tx.Exec(ctx, `
		INSERT INTO waitlist_entries
			(id, client_id, stylist_id, status, alternates, added_at, expires_at, offer_expires_at, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ClientID, e.StylistID, string(e.Status), alternates(e), e.AddedAt, e.ExpiresAt, offerExpiry(e), doc, e.UpdatedAt)
	return err
}

func (w pgWaitlist) Update(ctx context.Context, e model.WaitlistEntry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tag, err := w.tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
			alternates = $3,
			expires_at = $4,
			offer_expires_at = $5,
			doc = $6,
			updated_at = $7
		WHERE id = $1
	`, e.ID, string(e.Status), alternates(e), e.ExpiresAt, offerExpiry(e), doc, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (w pgWaitlist) ListByStylist(ctx context.Context, stylistID string, statuses ...model.WaitlistStatus) ([]model.WaitlistEntry, error) {
	query, args, err := stylistEntriesQuery(stylistID, statuses).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := w.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (w pgWaitlist) ListWanting(ctx context.Context, stylistID string) ([]model.WaitlistEntry, error) {
	rows, err := w.tx.Query(ctx, `
		SELECT doc
		FROM waitlist_entries
		WHERE status IN ('active', 'offered')
			AND (stylist_id = $1 OR $1 = ANY(alternates))
		ORDER BY added_at ASC, id ASC
	`, stylistID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (w pgWaitlist) ListByClient(ctx context.Context, clientID string) ([]model.WaitlistEntry, error) {
	rows, err := w.tx.Query(ctx, `
		SELECT doc
		FROM waitlist_entries
		WHERE client_id = $1
		ORDER BY added_at ASC, id ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (w pgWaitlist) ListDue(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.tx.Query(ctx, `
		SELECT doc
		FROM waitlist_entries
		WHERE status IN ('active', 'offered')
			AND (expires_at <= $1 OR (status = 'offered' AND offer_expires_at <= $1))
		ORDER BY added_at ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]model.WaitlistEntry, error) {
	defer rows.Close()
	var out []model.WaitlistEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e model.WaitlistEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func alternates(e model.WaitlistEntry) []string {
	if e.Preferences.AlternateStylists == nil {
		return []string{}
	}
	return e.Preferences.AlternateStylists
}

func offerExpiry(e model.WaitlistEntry) *time.Time {
	if e.CurrentOffer == nil {
		return nil
	}
	t := e.CurrentOffer.ExpiresAt
	return &t
}

func mapWriteErr(err error) error {
	if err != nil && db.HasCode(err, db.CodeExclusionViolation) {
		return ErrOverlap
	}
	return err
}

type pgCatalog struct {
	pool *db.Pool
}

func (c *pgCatalog) Stylist(ctx context.Context, id string) (model.Stylist, error) {
	var st model.Stylist
	var level string
	err := c.pool.QueryRow(ctx, `
		SELECT id, name, level, active
		FROM stylists
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &level, &st.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Stylist{}, ErrNotFound
		}
		return model.Stylist{}, err
	}
	st.Level = model.Level(level)
	return st, nil
}

func (c *pgCatalog) Service(ctx context.Context, id string) (model.Service, error) {
	var svc model.Service
	var levelPrices []byte
	err := c.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, base_price::float8, level_prices, COALESCE(peak_multiplier, 0), active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.BasePrice, &levelPrices, &svc.PeakMultiplier, &svc.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Service{}, ErrNotFound
		}
		return model.Service{}, err
	}
	if len(levelPrices) > 0 {
		if err := json.Unmarshal(levelPrices, &svc.LevelPrices); err != nil {
			return model.Service{}, errors.Join(errors.New("decode level_prices"), err)
		}
	}
	return svc, nil
}

func (c *pgCatalog) Windows(ctx context.Context, stylistID string, date clock.Date) ([]model.AvailabilityWindow, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, stylist_id, COALESCE(date::text, ''), COALESCE(weekday, 0), start_min, end_min, active
		FROM availability_windows
		WHERE stylist_id = $1
			AND active
			AND (date = $2::text::date OR (date IS NULL AND weekday = $3))
		ORDER BY start_min ASC
	`, stylistID, date.String(), int(date.Weekday()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		var d string
		var weekday, start, end int
		if err := rows.Scan(&w.ID, &w.StylistID, &d, &weekday, &start, &end, &w.Active); err != nil {
			return nil, err
		}
		w.Date = clock.Date(d)
		w.Weekday = time.Weekday(weekday)
		w.Start = clock.Minute(start)
		w.End = clock.Minute(end)
		out = append(out, w)
	}
	return out, rows.Err()
}
