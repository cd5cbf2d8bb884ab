package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type fakeMarker struct {
	calls int
	err   error
	last  string
}

func (f *fakeMarker) MarkPaid(_ context.Context, id, intentID string, _ float64) (model.Reservation, error) {
	f.calls++
	f.last = id + "/" + intentID
	if f.err != nil {
		return model.Reservation{}, f.err
	}
	return model.Reservation{ID: id}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(id, body string) kafka.Message {
	return kafka.Message{
		Topic: "payment.captured.v1",
		Value: []byte(body),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(id)},
			{Key: "event_type", Value: []byte("payment.captured.v1")},
		},
	}
}

func TestPaymentCapturedMarksReservation(t *testing.T) {
	m := &fakeMarker{}
	h := PaymentCaptured(m, discard())

	err := h(context.Background(), message("evt-1", `{"reservation_id":"r-1","payment_intent_id":"pi_1","amount":59.4}`))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if m.calls != 1 || m.last != "r-1/pi_1" {
		t.Fatalf("unexpected marker calls %d %q", m.calls, m.last)
	}

	if err := h(context.Background(), message("evt-2", `not json`)); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
	m.err = apperr.NotFound("reservation r-2")
	if err := h(context.Background(), message("evt-3", `{"reservation_id":"r-2","payment_intent_id":"pi_2"}`)); err != nil {
		t.Fatalf("unknown reservation should be dropped, got %v", err)
	}
	m.err = errors.New("db down")
	if err := h(context.Background(), message("evt-4", `{"reservation_id":"r-3","payment_intent_id":"pi_3"}`)); err == nil {
		t.Fatal("expected transient failure to be returned")
	}
}

func TestHandleDedupesAndReleasesOnFailure(t *testing.T) {
	m := &fakeMarker{err: errors.New("db down")}
	c := &Consumer{logger: discard(), inbox: inbox.NewMemory(), handler: PaymentCaptured(m, discard())}
	msg := message("evt-1", `{"reservation_id":"r-1","payment_intent_id":"pi_1","amount":10}`)

	if err := c.Handle(context.Background(), msg); err == nil {
		t.Fatal("expected the handler failure to surface")
	}
	m.err = nil
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("duplicate should be acknowledged, got %v", err)
	}

	if m.calls != 2 {
		t.Fatalf("expected a retry after failure and a dedupe after success, got %d calls", m.calls)
	}
}
