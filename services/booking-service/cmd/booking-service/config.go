package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/offers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/pricing"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

type appConfig struct {
	Service  string
	Port     string
	GRPCPort string

	DatabaseURL   string
	DBMaxConns    int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	KafkaBrokers  string
	KafkaGroupID  string
	PaymentsTopic string

	StripeSecretKey     string
	StripeWebhookSecret string
	JWTSecret           string
	RateLimitPerMinute  int
	RateLimitFailOpen   bool
	RequestTimeout      time.Duration
	BodyLimitBytes      int
	CORSAllowedOrigins  []string
	SweepInterval       time.Duration
	OutboxRetention     time.Duration
	MetricsEnabled      bool
	SeedFile            string

	Slots       slots.Config
	Pricing     pricing.Config
	Discounts   pricing.Discounts
	Reservation reservation.Config
	Waitlist    waitlist.Config
	Offers      offers.Config
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Service:             config.String("SERVICE_NAME", "booking-service"),
		DatabaseURL:         config.String("DATABASE_URL", ""),
		RedisAddr:           config.String("REDIS_ADDR", ""),
		RedisPassword:       config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:        config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:        config.String("KAFKA_GROUP_ID", "booking-service"),
		PaymentsTopic:       config.String("KAFKA_PAYMENTS_TOPIC", "payment.captured.v1"),
		StripeSecretKey:     config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
		JWTSecret:           config.String("JWT_SECRET", ""),
		SeedFile:            config.String("SEED_FILE", ""),
		RateLimitFailOpen:   config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		CORSAllowedOrigins:  config.List("CORS_ALLOWED_ORIGINS"),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 20); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = config.Duration("AVAILABILITY_CACHE_TTL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = config.Duration("SWEEP_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	cfg.MetricsEnabled = config.Bool("METRICS_ENABLED", true)
	if cfg.OutboxRetention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BodyLimitBytes, err = config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20); err != nil {
		return cfg, err
	}

	loc, err := time.LoadLocation(config.String("BUSINESS_TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}

	cfg.Slots = slots.DefaultConfig()
	cfg.Slots.Location = loc
	if cfg.Slots.MaxAdvanceDays, err = config.Int("MAX_ADVANCE_DAYS", 90); err != nil {
		return cfg, err
	}
	if cfg.Slots.MinAdvanceHours, err = config.Int("MIN_ADVANCE_HOURS", 2); err != nil {
		return cfg, err
	}
	if cfg.Slots.BusinessHours, err = interval("BUSINESS_HOURS_START", "08:00", "BUSINESS_HOURS_END", "20:00"); err != nil {
		return cfg, err
	}

	cfg.Pricing = pricing.DefaultConfig()
	if cfg.Pricing.PeakMultiplier, err = config.Float("PEAK_MULTIPLIER", 1.2); err != nil {
		return cfg, err
	}
	if cfg.Pricing.TaxRate, err = config.Float("TAX_RATE", 0.08); err != nil {
		return cfg, err
	}
	if cfg.Pricing.PeakHours, err = interval("PEAK_HOURS_START", "17:00", "PEAK_HOURS_END", "20:00"); err != nil {
		return cfg, err
	}
	if cfg.Discounts, err = pricing.ParseDiscounts(config.String("REFERRAL_DISCOUNTS", "")); err != nil {
		return cfg, fmt.Errorf("REFERRAL_DISCOUNTS: %w", err)
	}

	cfg.Reservation = reservation.DefaultConfig()
	cfg.Reservation.Location = loc
	if cfg.Reservation.ModificationWindow, err = hours("MODIFICATION_WINDOW_HOURS", 2); err != nil {
		return cfg, err
	}
	if cfg.Reservation.CancellationPolicy, err = hours("CANCELLATION_POLICY_HOURS", 24); err != nil {
		return cfg, err
	}

	cfg.Offers = offers.DefaultConfig()
	if cfg.Offers.OfferWindow, err = hours("OFFER_WINDOW_HOURS", 2); err != nil {
		return cfg, err
	}
	cfg.Waitlist = waitlist.DefaultConfig()
	days, err := config.Int("MAX_WAIT_DAYS", 30)
	if err != nil {
		return cfg, err
	}
	cfg.Waitlist.MaxWait = time.Duration(days) * 24 * time.Hour
	return cfg, nil
}

func hours(key string, fallback int) (time.Duration, error) {
	n, err := config.Int(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Hour, nil
}

func interval(startKey, startDefault, endKey, endDefault string) (clock.Interval, error) {
	start, err := clock.ParseMinute(config.String(startKey, startDefault))
	if err != nil {
		return clock.Interval{}, fmt.Errorf("%s: %w", startKey, err)
	}
	end, err := clock.ParseMinute(config.String(endKey, endDefault))
	if err != nil {
		return clock.Interval{}, fmt.Errorf("%s: %w", endKey, err)
	}
	iv := clock.Interval{Start: start, End: end}
	if !iv.Valid() {
		return clock.Interval{}, fmt.Errorf("%s must be after %s", endKey, startKey)
	}
	return iv, nil
}
