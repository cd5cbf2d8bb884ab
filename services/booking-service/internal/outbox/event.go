package outbox

import (
	"encoding/json"
	"time"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateReservation   = "reservation"
	AggregateWaitlistEntry = "waitlist_entry"
)

const (
	ReservationCreated   = "booking.reservation.created.v1"
	ReservationModified  = "booking.reservation.modified.v1"
	ReservationCancelled = "booking.reservation.cancelled.v1"
	ReservationConfirmed = "booking.reservation.confirmed.v1"
	ReservationStarted   = "booking.reservation.started.v1"
	ReservationCompleted = "booking.reservation.completed.v1"
	ReservationNoShow    = "booking.reservation.no_show.v1"
	ReservationReviewed  = "booking.reservation.reviewed.v1"
	ReservationPaid      = "booking.reservation.paid.v1"
	RefundFailed         = "booking.reservation.refund_failed.v1"

	WaitlistJoined    = "booking.waitlist.joined.v1"
	WaitlistExpired   = "booking.waitlist.expired.v1"
	WaitlistCancelled = "booking.waitlist.cancelled.v1"
	OfferMade         = "booking.waitlist.offer_made.v1"
	OfferAccepted     = "booking.waitlist.offer_accepted.v1"
	OfferDeclined     = "booking.waitlist.offer_declined.v1"
	OfferExpired      = "booking.waitlist.offer_expired.v1"
)

// New builds an event whose payload is the JSON snapshot plus the emission time.
func New(aggregateType, aggregateID, eventType string, snapshot any, at time.Time) (Event, error) {
	payload, err := json.Marshal(map[string]any{
		"id":          aggregateID,
		"event_type":  eventType,
		"occurred_at": at.UTC().Format(time.RFC3339),
		"data":        snapshot,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
