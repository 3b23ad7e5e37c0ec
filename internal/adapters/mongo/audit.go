package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, userID string, data bson.M) error {
	entry := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		UserID:    userID,
		Timestamp: a.now(),
		Data:      data,
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithField("action", action).WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogHold(ctx context.Context, action string, hold domain.Hold) error {
	return a.LogEvent(ctx, action, hold.OwnerID, bson.M{
		"hold_id":      hold.ID.String(),
		"departure_id": hold.DepartureID.String(),
		"seats":        hold.Seats,
		"expires_at":   hold.ExpiresAt.Format(time.RFC3339),
	})
}

func (a *AuditLogger) LogReservation(ctx context.Context, action string, res domain.Reservation) error {
	return a.LogEvent(ctx, action, res.UserID, bson.M{
		"reservation_id": res.ID.String(),
		"hold_id":        res.HoldID.String(),
		"departure_id":   res.DepartureID.String(),
		"seats":          res.Seats,
		"amount_cents":   res.AmountCents,
		"status":         string(res.Status),
	})
}

func (a *AuditLogger) LogCancellation(ctx context.Context, reservationID uuid.UUID, userID string) error {
	return a.LogEvent(ctx, "reservation.cancelled", userID, bson.M{
		"reservation_id": reservationID.String(),
	})
}
