package inbox

import (
	"context"
	"testing"
)

func TestMemoryRecordDedupes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.Record(ctx, "evt-1", "payment.captured.v1")
	if err != nil || !ok {
		t.Fatalf("expected first record to succeed, got %v %v", ok, err)
	}
	ok, err = m.Record(ctx, "evt-1", "payment.captured.v1")
	if err != nil || ok {
		t.Fatalf("expected duplicate to be reported, got %v %v", ok, err)
	}

	if err := m.Forget(ctx, "evt-1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if ok, _ := m.Record(ctx, "evt-1", "payment.captured.v1"); !ok {
		t.Fatal("expected a forgotten id to be recorded again")
	}
}
