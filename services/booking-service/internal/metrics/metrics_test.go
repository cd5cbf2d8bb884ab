package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

func TestStoreCountsCommittedEventsOnly(t *testing.T) {
	m := New("booking-service")
	store := m.Store(storage.NewMemoryStore())
	ctx := context.Background()

	err := store.InScope(ctx, []string{storage.StylistKey("st-1")}, func(ctx context.Context, tx storage.Tx) error {
		return tx.Emit(ctx, outbox.Event{EventType: outbox.ReservationCreated, AggregateID: "r-1"})
	})
	if err != nil {
		t.Fatalf("scope failed: %v", err)
	}
	err = store.InScope(ctx, []string{storage.StylistKey("st-1")}, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Emit(ctx, outbox.Event{EventType: outbox.ReservationCreated, AggregateID: "r-2"}); err != nil {
			return err
		}
		return &apperr.ConflictError{Reason: "overlap"}
	})
	if err == nil {
		t.Fatal("expected the conflict to surface")
	}

	if got := testutil.ToFloat64(m.events.WithLabelValues(outbox.ReservationCreated)); got != 1 {
		t.Fatalf("expected 1 committed event, got %v", got)
	}
	if got := testutil.CollectAndCount(m.scopes); got != 2 {
		t.Fatalf("expected commit and conflict series, got %d", got)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"commit":     nil,
		"conflict":   &apperr.ConflictError{Reason: "x"},
		"validation": apperr.Validation("bad"),
		"state":      apperr.ExpiredOffer("late"),
		"error":      context.DeadlineExceeded,
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestHTTPAndHandler(t *testing.T) {
	m := New("booking-service")
	h := m.HTTP(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/reservations", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/api/v1/reservations", "409")); got != 1 {
		t.Fatalf("expected one 409, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "other", "409")); got != 1 {
		t.Fatalf("expected non-api path collapsed to other, got %v", got)
	}

	rw := httptest.NewRecorder()
	m.Handler().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rw.Body.String(), "http_requests_total") {
		t.Fatal("expected http_requests_total in exposition")
	}
}
