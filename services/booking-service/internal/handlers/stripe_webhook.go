package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/payments"
)

// StripeWebhook marks reservations paid from payment_intent.succeeded events.
// The signature is the auth; the path is not behind requireAuth.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)
	if evtType != "payment_intent.succeeded" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	inboxID := "stripe:" + evt.ID
	fresh, err := h.providerEvents.Record(r.Context(), inboxID, evtType)
	if err != nil {
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}
	if !fresh {
		h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		h.logger.Error("stripe: invalid payment intent payload", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	reservationID := strings.TrimSpace(intent.Metadata["reservation_id"])
	if reservationID == "" {
		h.logger.Warn("stripe: missing reservation_id metadata on payment intent", "payment_intent_id", intent.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	_, err = h.bookings.MarkPaid(r.Context(), reservationID, intent.ID, payments.Amount(intent.AmountReceived))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrState):
		h.logger.Warn("stripe: payment not applied", "reservation_id", reservationID, "payment_intent_id", intent.ID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	default:
		// Let Stripe redeliver.
		_ = h.providerEvents.Forget(r.Context(), inboxID)
		h.logger.Error("stripe: mark paid failed", "reservation_id", reservationID, "err", err)
		http.Error(w, "failed to apply payment", http.StatusInternalServerError)
	}
}
