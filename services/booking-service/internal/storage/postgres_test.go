package storage

import (
	"testing"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

func TestStylistReservationsQuery(t *testing.T) {
	query, args, err := stylistReservationsQuery("st-1", "").ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	want := "SELECT doc FROM reservations WHERE stylist_id = $1 ORDER BY date ASC, start_min ASC, id ASC"
	if query != want || len(args) != 1 {
		t.Fatalf("unexpected query %q %v", query, args)
	}

	query, args, err = stylistReservationsQuery("st-1", clock.Date("2024-07-25")).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	want = "SELECT doc FROM reservations WHERE stylist_id = $1 AND date = $2::date ORDER BY date ASC, start_min ASC, id ASC"
	if query != want || len(args) != 2 || args[1] != "2024-07-25" {
		t.Fatalf("unexpected query %q %v", query, args)
	}
}

func TestStylistEntriesQuery(t *testing.T) {
	query, args, err := stylistEntriesQuery("st-1", []model.WaitlistStatus{model.WaitlistActive, model.WaitlistOffered}).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	want := "SELECT doc FROM waitlist_entries WHERE stylist_id = $1 AND status IN ($2,$3) ORDER BY added_at ASC, id ASC"
	if query != want || len(args) != 3 {
		t.Fatalf("unexpected query %q %v", query, args)
	}

	query, _, _ = stylistEntriesQuery("st-1", nil).ToSql()
	if query != "SELECT doc FROM waitlist_entries WHERE stylist_id = $1 ORDER BY added_at ASC, id ASC" {
		t.Fatalf("status filter should be omitted, got %q", query)
	}
}
