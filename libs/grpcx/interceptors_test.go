package grpcx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-7"))
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil || seen != "req-7" {
		t.Fatalf("expected req-7, got %q (%v)", seen, err)
	}
}

func TestRequestIDMinted(t *testing.T) {
	var seen string
	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	if len(seen) != 36 {
		t.Fatalf("expected a uuid, got %q", seen)
	}
}

func TestLoggingRecoversPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := UnaryServerLoggingInterceptor(logger)(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}
