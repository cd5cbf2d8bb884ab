package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

func TestConflictErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create: %w", &ConflictError{
		Reason: "overlaps existing reservation",
		Conflicts: []model.Conflict{
			{ReservationID: "r-1", Start: clock.MustMinute("10:00"), End: clock.MustMinute("11:00")},
		},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected errors.Is(err, ErrConflict)")
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || len(ce.Conflicts) != 1 {
		t.Fatalf("expected ConflictError with one conflict, got %v", err)
	}
	if errors.Is(err, ErrState) {
		t.Fatal("conflict must not match ErrState")
	}
}

func TestKindsWrap(t *testing.T) {
	if !errors.Is(State("cannot cancel %s reservation", "completed"), ErrState) {
		t.Fatal("expected ErrState")
	}
	if !errors.Is(ExpiredOffer("entry %s", "w-1"), ErrExpiredOffer) {
		t.Fatal("expected ErrExpiredOffer")
	}
	if got := Validation("rating must be 1-5").Error(); got != "validation failed: rating must be 1-5" {
		t.Fatalf("unexpected message %q", got)
	}
}
