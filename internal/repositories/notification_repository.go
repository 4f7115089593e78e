package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const NotificationsCollection = "notifications"

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a conditional status transition did not apply
	ErrStatusConflict = errors.New("status already advanced")
)

// NotificationRepository defines the operations the delivery pipeline needs on notification records
type NotificationRepository interface {
	GetByID(ctx context.Context, id string) (*models.NotificationRecord, error)
	RecordOutcome(ctx context.Context, id string, outcome models.DeliveryOutcome) error
	ListPending(ctx context.Context, createdBefore time.Time, limit int64) ([]models.NotificationRecord, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoNotificationRepository implements NotificationRepository for MongoDB
type MongoNotificationRepository struct {
	collection *mongo.Collection
}

// NewMongoNotificationRepository creates a new MongoNotificationRepository
func NewMongoNotificationRepository(db *mongo.Database) *MongoNotificationRepository {
	return &MongoNotificationRepository{collection: db.Collection(NotificationsCollection)}
}

// Collection exposes the underlying collection for change stream watchers
func (r *MongoNotificationRepository) Collection() *mongo.Collection {
	return r.collection
}

// EnsureIndexes creates the indexes used by the poller and the sweeper
func (r *MongoNotificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "deliveryStatus", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "recipientUserId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

// GetByID retrieves a notification record by ID
func (r *MongoNotificationRepository) GetByID(ctx context.Context, id string) (*models.NotificationRecord, error) {
	var record models.NotificationRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// RecordOutcome writes the delivery result, but only while the record is still pending
func (r *MongoNotificationRepository) RecordOutcome(ctx context.Context, id string, outcome models.DeliveryOutcome) error {
	set := bson.M{
		"deliveryStatus":      outcome.Status,
		"deliveryAttemptedAt": outcome.AttemptedAt,
	}
	if outcome.MessageID != "" {
		set["deliveryMessageId"] = outcome.MessageID
	}
	if outcome.ErrorCode != "" {
		set["deliveryErrorCode"] = outcome.ErrorCode
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "deliveryStatus": models.DeliveryPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListPending returns records still awaiting delivery that were created before the given time
func (r *MongoNotificationRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int64) ([]models.NotificationRecord, error) {
	var records []models.NotificationRecord
	findOptions := options.Find().SetLimit(limit).SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{
		"deliveryStatus": models.DeliveryPending,
		"createdAt":      bson.M{"$lt": createdBefore},
	}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteCreatedBefore removes every record created before cutoff
func (r *MongoNotificationRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return res.DeletedCount, nil
}
