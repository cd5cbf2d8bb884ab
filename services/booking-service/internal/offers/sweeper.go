package offers

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs Scheduler.Sweep on a fixed interval until its context ends.
type Sweeper struct {
	scheduler *Scheduler
	logger    *slog.Logger
	interval  time.Duration
}

func NewSweeper(scheduler *Scheduler, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{scheduler: scheduler, logger: logger, interval: interval}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.scheduler.Sweep(ctx)
			if err != nil {
				w.logger.Error("waitlist sweep failed", "err", err)
				continue
			}
			if res.OffersExpired > 0 || res.EntriesExpired > 0 || res.Failed > 0 {
				w.logger.Info("waitlist sweep",
					"offers_expired", res.OffersExpired,
					"entries_expired", res.EntriesExpired,
					"failed", res.Failed,
				)
			}
		}
	}
}
