package waitlist

import (
	"context"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type snapshot struct {
	EntryID       string               `json:"entry_id"`
	ClientID      string               `json:"client_id"`
	StylistID     string               `json:"stylist_id"`
	ServiceIDs    []string             `json:"service_ids"`
	Status        model.WaitlistStatus `json:"status"`
	Priority      model.Priority       `json:"priority"`
	Position      int                  `json:"position"`
	Offer         *model.Offer         `json:"offer,omitempty"`
	ReservationID string               `json:"reservation_id,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// Emit records a waitlist event for e in the scope's outbox.
func (q *Queue) Emit(ctx context.Context, tx storage.Tx, eventType string, e model.WaitlistEntry, reason string) error {
	offer := e.CurrentOffer
	if offer == nil {
		if last := e.LatestOffer(); last != nil && eventType != outbox.WaitlistJoined {
			o := last.Offer
			offer = &o
		}
	}
	evt, err := outbox.New(outbox.AggregateWaitlistEntry, e.ID, eventType, snapshot{
		EntryID:       e.ID,
		ClientID:      e.ClientID,
		StylistID:     e.StylistID,
		ServiceIDs:    e.ServiceIDs,
		Status:        e.Status,
		Priority:      e.Priority,
		Position:      e.Position,
		Offer:         offer,
		ReservationID: e.ReservationID,
		Reason:        reason,
	}, q.now())
	if err != nil {
		return err
	}
	return tx.Emit(ctx, evt)
}
