package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// PaymentMarker is satisfied by reservation.Service.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, reservationID, intentID string, amount float64) (model.Reservation, error)
}

type paymentCaptured struct {
	ReservationID   string  `json:"reservation_id"`
	PaymentIntentID string  `json:"payment_intent_id"`
	Amount          float64 `json:"amount"`
}

// PaymentCaptured records captured payments on their reservations. Events for
// unknown reservations or in a state that cannot take a payment are logged and
// dropped.
func PaymentCaptured(marker PaymentMarker, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt paymentCaptured
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Warn("malformed payment event dropped", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.ReservationID == "" || evt.PaymentIntentID == "" {
			logger.Warn("payment event without reservation or intent dropped", "topic", msg.Topic)
			return nil
		}

		r, err := marker.MarkPaid(ctx, evt.ReservationID, evt.PaymentIntentID, evt.Amount)
		switch {
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrState):
			logger.Warn("payment event not applied", "err", err, "reservation_id", evt.ReservationID)
			return nil
		case err != nil:
			return fmt.Errorf("mark reservation %s paid: %w", evt.ReservationID, err)
		}
		logger.Info("payment recorded", "reservation_id", r.ID, "payment_intent", evt.PaymentIntentID)
		return nil
	}
}
