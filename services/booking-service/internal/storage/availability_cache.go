package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// CachedAvailability is a read-through Redis cache in front of another
// AvailabilityReader. Cache failures fall back to the underlying reader.
type CachedAvailability struct {
	next   AvailabilityReader
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedAvailability(next AvailabilityReader, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedAvailability {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedAvailability{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func availabilityCacheKey(stylistID string, date clock.Date) string {
	return "availability:" + stylistID + ":" + date.String()
}

func (c *CachedAvailability) Windows(ctx context.Context, stylistID string, date clock.Date) ([]model.AvailabilityWindow, error) {
	key := availabilityCacheKey(stylistID, date)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var windows []model.AvailabilityWindow
		if err := json.Unmarshal(raw, &windows); err == nil {
			return windows, nil
		}
		c.logger.Warn("availability cache entry corrupt", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("availability cache read failed", "err", err, "key", key)
	}

	windows, err := c.next.Windows(ctx, stylistID, date)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(windows); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("availability cache write failed", "err", err, "key", key)
		}
	}
	return windows, nil
}

// ReadyCheck pings Redis.
func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
