package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/inbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic in a consumer group and commits an offset only
// after its message was handled or recognised as a duplicate.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   inbox.Recorder
	handler Handler
	retries int
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// Retries is how many extra attempts a failing message gets before it is skipped.
	Retries int
}

func New(logger *slog.Logger, recorder inbox.Recorder, cfg Config, handler Handler) *Consumer {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  kafkax.SplitBrokers(cfg.Brokers),
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger:  logger.With("topic", cfg.Topic),
		inbox:   recorder,
		handler: handler,
		retries: cfg.Retries,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			sleep(ctx, time.Second)
			continue
		}

		for attempt := 0; ; attempt++ {
			err = c.Handle(ctx, msg)
			if err == nil || attempt >= c.retries || ctx.Err() != nil {
				break
			}
			sleep(ctx, time.Duration(attempt+1)*time.Second)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Error("message skipped after retries", "err", err, "offset", msg.Offset, "partition", msg.Partition)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err)
		}
	}
}

// Handle dedupes msg through the inbox and passes it to the handler. A failed
// handler releases the inbox record so a retry is not mistaken for a duplicate.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	ctx, span := otel.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	fresh, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "aggregate_id", meta.AggregateID)
		span.SetStatus(codes.Error, err.Error())
		if ferr := c.inbox.Forget(ctx, meta.EventID); ferr != nil {
			c.logger.Error("inbox release failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
