package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

const Exchange = "bsr.events"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch         channel
	maxRetries int
	backoff    time.Duration
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, maxRetries: 3, backoff: 200 * time.Millisecond}, nil
}

// Publish sends msg as a persistent message, retrying with exponential
// backoff before giving up.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var err error
	for i := 0; i <= p.maxRetries; i++ {
		if i > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << (i - 1)):
			}
		}
		if err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s after %d retries", key, p.maxRetries)
}
