package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher relays committed outbox rows to Kafka, one topic per event type.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retention time.Duration
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows are kept; zero keeps them forever.
	Retention time.Duration
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	if p.pool == nil {
		p.logger.Warn("outbox publisher disabled (no database configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		case <-purge.C:
			p.purge(ctx)
		}
	}
}

func (p *Publisher) purge(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	var purged int64
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		n, err := p.repo.PurgePublished(ctx, tx, time.Now().Add(-p.retention))
		purged = n
		return err
	})
	if err != nil {
		p.logger.Error("outbox purge failed", "err", err)
		return
	}
	if purged > 0 {
		p.logger.Info("outbox purged", "rows", purged)
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, Message(ctx, r))
			ids = append(ids, r.ID)
		}
		// Keyed by aggregate id, so one reservation's events stay ordered on a partition.
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		return p.repo.MarkPublished(ctx, tx, ids)
	})
}

// Message converts an outbox record into a Kafka message carrying the
// record's trace context.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.RestoreTrace(ctx, r.Traceparent, r.Tracestate)
	meta := kafkax.EventMeta{
		EventID:       r.EventID,
		EventType:     r.EventType,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
	}
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: meta.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
