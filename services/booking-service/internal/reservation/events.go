package reservation

import (
	"context"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type snapshot struct {
	ReservationID   string                  `json:"reservation_id"`
	ClientID        string                  `json:"client_id"`
	StylistID       string                  `json:"stylist_id"`
	ServiceIDs      []string                `json:"service_ids"`
	Date            clock.Date              `json:"date"`
	Start           clock.Minute            `json:"start"`
	End             clock.Minute            `json:"end"`
	Status          model.ReservationStatus `json:"status"`
	Source          model.Source            `json:"source"`
	WaitlistEntryID string                  `json:"waitlist_entry_id,omitempty"`
	Total           float64                 `json:"total"`
	PaymentStatus   model.PaymentStatus     `json:"payment_status"`
	Cancellation    *model.Cancellation     `json:"cancellation,omitempty"`
	Changes         map[string]string       `json:"changes,omitempty"`
}

func (s *Service) emit(ctx context.Context, tx storage.Tx, eventType string, r model.Reservation, changes map[string]string) error {
	evt, err := outbox.New(outbox.AggregateReservation, r.ID, eventType, snapshot{
		ReservationID:   r.ID,
		ClientID:        r.ClientID,
		StylistID:       r.StylistID,
		ServiceIDs:      r.ServiceIDs(),
		Date:            r.Date,
		Start:           r.Start,
		End:             r.End,
		Status:          r.Status,
		Source:          r.Source,
		WaitlistEntryID: r.WaitlistEntryID,
		Total:           r.Pricing.Total,
		PaymentStatus:   r.Payment.Status,
		Cancellation:    r.Cancellation,
		Changes:         changes,
	}, s.now())
	if err != nil {
		return err
	}
	return tx.Emit(ctx, evt)
}
