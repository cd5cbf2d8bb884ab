package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/salonbook/libs/grpcx"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
)

const bookingHealthService = "salonbook.booking.v1.BookingService"

// startGrpcServer serves grpc.health.v1 and keeps its status in step with the
// readiness checks.
func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, checks ...runtime.ReadyCheck) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	refreshHealth(ctx, hs, checks)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				refreshHealth(ctx, hs, checks)
			}
		}
	}()

	return nil
}

func refreshHealth(ctx context.Context, hs *health.Server, checks []runtime.ReadyCheck) {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := runtime.CheckReady(ctx, checks...); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(bookingHealthService, status)
}
