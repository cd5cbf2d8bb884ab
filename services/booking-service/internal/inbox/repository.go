// Package inbox deduplicates inbound events by id.
package inbox

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

// Recorder remembers processed event ids. Record reports false for an id it
// has already seen; Forget drops an id so a redelivery is handled again.
type Recorder interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.HasCode(err, db.CodeUniqueViolation) {
		return false, nil
	}
	return false, err
}

func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

// Memory is the Recorder used without a database.
type Memory struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]string{}}
}

func (m *Memory) Record(_ context.Context, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = eventType
	return true, nil
}

func (m *Memory) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}
