package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
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
	ID            string    `bson:"_id" json:"id"`
	Action        string    `bson:"action" json:"action"`
	AggregateType string    `bson:"aggregate_type" json:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id" json:"aggregate_id"`
	Timestamp     time.Time `bson:"timestamp" json:"timestamp"`
	Data          bson.M    `bson:"data" json:"data"`
}

// EnsureIndexes creates the lookup index used by History.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "aggregate_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return errors.Wrap(err, "create audit index")
}

func (a *AuditLogger) LogEvent(ctx context.Context, id, action, aggregateType string, aggregateID uuid.UUID, at time.Time, data map[string]interface{}) error {
	log := AuditLog{
		ID:            id,
		Action:        action,
		AggregateType: aggregateType,
		AggregateID:   aggregateID.String(),
		Timestamp:     at,
		Data:          bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

// Record stores a relayed outbox record. Records are keyed by their id, so a
// record relayed twice is stored once.
func (a *AuditLogger) Record(ctx context.Context, rec domain.OutboxRecord) error {
	var data map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &data); err != nil {
		return errors.Wrapf(err, "decode %s payload", rec.EventType)
	}
	return a.LogEvent(ctx, rec.ID.String(), rec.EventType, rec.AggregateType, rec.AggregateID, rec.CreatedAt, data)
}

// History lists audited events of one aggregate, oldest first.
func (a *AuditLogger) History(ctx context.Context, aggregateID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"aggregate_id": aggregateID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	defer cur.Close(ctx)

	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
