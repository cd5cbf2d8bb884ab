// Package payments talks to the payment provider on behalf of the booking core.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

var ErrNoPaymentIntent = errors.New("reservation has no payment intent")

// Refunder returns money for a captured payment and reports the provider refund id.
type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string, amount float64, reservationID string) (string, error)
}

type StripeRefunder struct {
	api    *client.API
	logger *slog.Logger
}

func NewStripeRefunder(secretKey string, logger *slog.Logger) *StripeRefunder {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeRefunder{api: api, logger: logger}
}

func (s *StripeRefunder) Refund(ctx context.Context, paymentIntentID string, amount float64, reservationID string) (string, error) {
	if paymentIntentID == "" {
		return "", ErrNoPaymentIntent
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(Cents(amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("reservation_id", reservationID)
	params.SetIdempotencyKey("refund-" + reservationID)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return "", err
	}
	s.logger.Info("refund created", "reservation_id", reservationID, "refund_id", r.ID, "status", string(r.Status))
	return r.ID, nil
}

// NoopRefunder is used when no payment provider is configured.
type NoopRefunder struct {
	Logger *slog.Logger
}

func (n NoopRefunder) Refund(_ context.Context, paymentIntentID string, amount float64, reservationID string) (string, error) {
	if n.Logger != nil {
		n.Logger.Warn("refund skipped (no payment provider configured)",
			"reservation_id", reservationID, "payment_intent", paymentIntentID, "amount", amount)
	}
	return "", nil
}

// Cents converts a currency amount to the smallest unit.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Amount converts the smallest currency unit back to a currency amount.
func Amount(cents int64) float64 {
	return float64(cents) / 100
}
