package sweeper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

type Holds interface {
	Expired(now time.Time) []domain.Hold
	Expire(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Sweeper reclaims holds whose deadline passed without a commit.
type Sweeper struct {
	holds     Holds
	publisher Publisher
	logger    observability.Logger
	interval  time.Duration
	now       func() time.Time
}

type Option func(*Sweeper)

// WithPublisher announces every reclaimed hold as a hold.expired event.
func WithPublisher(p Publisher) Option {
	return func(s *Sweeper) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(holds Holds, logger observability.Logger, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		holds:    holds,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, s.now()); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}

// SweepOnce expires every live hold past its deadline at now and returns how
// many this call reclaimed. Holds claimed by a commit in the meantime are
// skipped.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	var (
		reclaimed int
		firstErr  error
	)
	for _, h := range s.holds.Expired(now) {
		ok, err := s.holds.Expire(ctx, h.ID, now)
		if err != nil {
			s.logger.WithField("hold_id", h.ID).WithError(err).Error("failed to expire hold")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		reclaimed++
		observability.HoldsExpired.Inc()
		s.logger.WithField("hold_id", h.ID).WithField("departure_id", h.DepartureID).Info("hold expired")
		s.publish(ctx, h)
	}
	return reclaimed, firstErr
}

func (s *Sweeper) publish(ctx context.Context, h domain.Hold) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"hold_id":      h.ID,
		"departure_id": h.DepartureID,
		"seats":        h.Seats,
		"expired_at":   h.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.WithError(err).Error("failed to encode hold.expired")
		return
	}
	msg := amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        payload,
	}
	if err := s.publisher.Publish(ctx, "hold.expired", msg); err != nil {
		s.logger.WithField("hold_id", h.ID).WithError(err).Warn("failed to publish hold.expired")
	}
}
