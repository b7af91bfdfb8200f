// Package mongo holds the operational audit trail: a best-effort log of
// lifecycle transitions for support tooling. The canonical, transactional
// audit lives in the admin_booking_actions table; this one may lag or drop
// entries without affecting correctness.
package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mixcrate/dj-booking-core/internal/domain"
	"github.com/mixcrate/dj-booking-core/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	ActorID   uuid.UUID `bson:"actor_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, actorID uuid.UUID, data map[string]interface{}) {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
	}
}

func (a *AuditLogger) LogTransition(ctx context.Context, actorID uuid.UUID, b *domain.Booking, action string) {
	data := map[string]interface{}{
		"booking_id":    b.ID,
		"status":        b.Status,
		"escrow_status": b.EscrowStatus,
	}
	if b.DjID != nil {
		data["dj_id"] = *b.DjID
	}
	a.LogEvent(ctx, action, actorID, data)
}

func (a *AuditLogger) LogTermination(ctx context.Context, actorID, djID uuid.UUID, affected int) {
	a.LogEvent(ctx, "dj.terminated", actorID, map[string]interface{}{
		"dj_id":             djID,
		"affected_bookings": affected,
	})
}
