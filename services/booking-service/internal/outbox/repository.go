package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
)

// Repository owns the outbox_events table. Every method runs on the caller's
// transaction so events commit or roll back with the state change they describe.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Record is one stored event; db tags follow the outbox_events columns.
type Record struct {
	ID            int64     `db:"id"`
	EventID       string    `db:"event_id"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Traceparent   string    `db:"traceparent"`
	Tracestate    string    `db:"tracestate"`
	CreatedAt     time.Time `db:"created_at"`
}

// Insert stores evt along with the caller's trace so the publish span links back.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	parent, state := otelx.CaptureTrace(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES (@aggregate_type, @aggregate_id, @event_type, @payload, @traceparent, @tracestate)
	`, pgx.NamedArgs{
		"aggregate_type": evt.AggregateType,
		"aggregate_id":   evt.AggregateID,
		"event_type":     evt.EventType,
		"payload":        evt.Payload,
		"traceparent":    parent,
		"tracestate":     state,
	})
	return err
}

// FetchUnpublished locks up to limit pending rows. SKIP LOCKED lets several
// publishers drain the table without handing out the same row twice.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Record])
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

// PurgePublished drops rows published before cutoff and reports how many went.
func (r *Repository) PurgePublished(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM outbox_events WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
