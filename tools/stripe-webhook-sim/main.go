package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// stripe-webhook-sim posts a signed payment_intent.succeeded event to the
// booking service so a reservation can be marked paid without Stripe.
func main() {
	var (
		baseURL     = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		reservation = flag.String("reservation-id", getenv("RESERVATION_ID", ""), "reservation_id metadata")
		intentID    = flag.String("intent-id", getenv("PAYMENT_INTENT_ID", ""), "payment intent id (generated when empty)")
		amount      = flag.Int64("amount", 0, "amount received in cents")
		secret      = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*reservation) == "" {
		fatal("RESERVATION_ID is required")
	}

	now := time.Now().UTC()
	if *intentID == "" {
		*intentID = fmt.Sprintf("pi_test_%d", now.UnixNano())
	}
	payload, err := buildEventJSON(fmt.Sprintf("evt_test_%d", now.UnixNano()), now, *intentID, *reservation, *amount)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("status=%d\n", resp.StatusCode)
}

func buildEventJSON(eventID string, t time.Time, intentID, reservationID string, amount int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        "payment_intent.succeeded",
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":              intentID,
				"object":          "payment_intent",
				"status":          "succeeded",
				"amount_received": amount,
				"metadata": map[string]any{
					"reservation_id": reservationID,
				},
			},
		},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
