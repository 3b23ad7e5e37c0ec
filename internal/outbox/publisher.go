package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays outbox rows to the event exchange, oldest first. A row is
// marked published only after the broker accepted it.
type Publisher struct {
	source    Source
	sink      Sink
	logger    observability.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewPublisher(source Source, sink Sink, logger observability.Logger, interval time.Duration) *Publisher {
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		interval:  interval,
		batchSize: 50,
		now:       time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return nil
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				p.logger.WithError(err).Error("outbox relay failed")
			}
		}
	}
}

// PublishPending relays one batch and returns how many rows were published.
// It stops at the first failed publish so events keep their order.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	records, err := p.source.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Timestamp:   rec.CreatedAt,
			Type:        rec.EventType,
			Body:        rec.Payload,
		}
		if err := p.sink.Publish(ctx, rec.EventType, msg); err != nil {
			return published, err
		}
		if err := p.source.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return published, err
		}
		published++
		p.logger.WithField("event_type", rec.EventType).WithField("aggregate_id", rec.AggregateID).Debug("outbox record published")
	}
	return published, nil
}
