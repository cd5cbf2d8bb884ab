package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEventMetaRoundTripsThroughHeaders(t *testing.T) {
	meta := EventMeta{EventID: "evt-1", EventType: "reservation.created.v1", AggregateType: "reservation", AggregateID: "r-1"}
	msg := kafka.Message{Topic: "reservation.created.v1", Key: []byte("r-1"), Headers: meta.Headers()}
	if got := ExtractEventMeta(msg); got != meta {
		t.Fatalf("expected %+v, got %+v", meta, got)
	}

	bare := ExtractEventMeta(kafka.Message{Topic: "payment.captured.v1", Key: []byte("pi_1")})
	if bare.EventID != "pi_1" || bare.EventType != "payment.captured.v1" {
		t.Fatalf("unexpected fallback meta %+v", bare)
	}
}

func TestTraceHeadersAreAppended(t *testing.T) {
	prop := propagation.TraceContext{}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	carrier := &headerCarrier{headers: EventMeta{EventID: "evt-1"}.Headers()}
	prop.Inject(ctx, carrier)
	if HeaderValue(carrier.headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %+v", carrier.headers)
	}

	out := prop.Extract(context.Background(), &headerCarrier{headers: carrier.headers})
	if got := trace.SpanContextFromContext(out).TraceID(); got != traceID {
		t.Fatalf("expected trace %s, got %s", traceID, got)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if err := ReadyCheck("")(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
