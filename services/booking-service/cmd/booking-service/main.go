package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/offers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/pricing"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var (
		store     storage.Store
		processed inbox.Recorder = inbox.NewMemory()
		checks    []runtime.ReadyCheck
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.WithApplicationName(cfg.Service), db.WithMaxConns(int32(cfg.DBMaxConns)))
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		store = storage.NewPostgresStore(pool, outboxRepo)
		processed = inbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
			Retention: cfg.OutboxRetention,
		})
		go outboxPublisher.Run(ctx)
	} else {
		mem := storage.NewMemoryStore()
		if cfg.SeedFile != "" {
			seed, err := loadSeed(cfg.SeedFile, mem)
			if err != nil {
				logger.Error("catalog seed failed", "err", err, "path", cfg.SeedFile)
				panic(err)
			}
			logger.Info("catalog seeded", "stylists", len(seed.Stylists), "services", len(seed.Services), "windows", len(seed.Windows))
		}
		logger.Warn("DATABASE_URL not set; reservations and waitlist live in memory")
		store = mem
	}

	var collector *metrics.Metrics
	if cfg.MetricsEnabled {
		collector = metrics.New(cfg.Service)
		store = collector.Store(store)
	}

	windows := store.Availability()
	rateLimitMW := httpx.Middleware(func(next http.Handler) http.Handler { return next })
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		windows = storage.NewCachedAvailability(windows, rdb, cfg.CacheTTL, logger)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: storage.ReadyCheck(rdb)})
		if cfg.RateLimitPerMinute > 0 {
			rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl:booking")
			rateLimitMW = rl.Middleware(logger, cfg.RateLimitFailOpen)
			logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", cfg.RedisAddr)
		}
	} else if cfg.RateLimitPerMinute > 0 {
		rl := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	}

	var refunder payments.Refunder = payments.NoopRefunder{Logger: logger}
	if cfg.StripeSecretKey != "" {
		refunder = payments.NewStripeRefunder(cfg.StripeSecretKey, logger)
	}

	validator := slots.NewValidator(cfg.Slots, windows, time.Now)
	bookings := reservation.NewService(store, validator, pricing.NewEngine(cfg.Pricing), cfg.Discounts, refunder, logger, cfg.Reservation, time.Now)
	queue := waitlist.NewQueue(store, logger, cfg.Waitlist, time.Now)
	scheduler := offers.NewScheduler(store, queue, bookings, validator, logger, cfg.Offers, time.Now)
	bookings.OnSlotFreed(scheduler)
	go offers.NewSweeper(scheduler, logger, cfg.SweepInterval).Run(ctx)

	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
		if cfg.PaymentsTopic != "" {
			paymentsConsumer := consumer.New(logger, processed, consumer.Config{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.KafkaGroupID,
				Topic:   cfg.PaymentsTopic,
			}, consumer.PaymentCaptured(bookings, logger))
			go paymentsConsumer.Run(ctx)
		}
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, checks...); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; trusting X-User-Id and X-Role headers from the gateway")
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(store, bookings, queue, scheduler, validator, processed, logger, handlers.Config{
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	}).Register(mux, guard(cfg.JWTSecret, rateLimitMW))

	instrument := httpx.Middleware(func(next http.Handler) http.Handler { return next })
	if collector != nil {
		mux.Handle("/metrics", collector.Handler())
		instrument = collector.HTTP
	}

	httpHandler := httpx.Chain(mux,
		instrument,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(cfg.BodyLimitBytes)),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
