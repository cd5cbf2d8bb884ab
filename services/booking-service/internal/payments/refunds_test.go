package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestCents(t *testing.T) {
	cases := map[float64]int64{93.11: 9311, 0.1 + 0.2: 30, 38.33: 3833, 0: 0}
	for in, want := range cases {
		if got := Cents(in); got != want {
			t.Fatalf("Cents(%v) = %d, want %d", in, got, want)
		}
		if back := Amount(Cents(in)); Cents(back) != want {
			t.Fatalf("Amount(%d) = %v does not round trip", want, back)
		}
	}
}

func TestStripeRefunderRequiresIntent(t *testing.T) {
	r := NewStripeRefunder("sk_test_dummy", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := r.Refund(context.Background(), "", 10, "r-1"); !errors.Is(err, ErrNoPaymentIntent) {
		t.Fatalf("expected ErrNoPaymentIntent, got %v", err)
	}
}
