package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger mirrors settlement events into a queryable audit collection.
// The ledger's escrow transactions stay the source of truth; this trail is
// for support tooling and is written fire-and-forget.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("settlement_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

// LogSettlement records a terminal escrow transaction against its booking.
func (a *AuditLogger) LogSettlement(ctx context.Context, b *domain.Booking, tx domain.EscrowTransaction) error {
	data := map[string]interface{}{
		"booking_id":     b.ID,
		"transaction_id": tx.ID,
		"kind":           string(tx.Kind),
		"amount":         tx.Amount,
		"status":         string(b.Status),
		"payment_status": b.PaymentStatus,
		"note":           tx.Note,
	}
	return a.LogEvent(ctx, "escrow."+string(tx.Kind), b.UserID, data)
}
