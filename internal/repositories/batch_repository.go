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

const BatchesCollection = "notification_batches"

// BatchRepository defines the operations the delivery pipeline needs on delivery batches
type BatchRepository interface {
	GetByID(ctx context.Context, id string) (*models.DeliveryBatch, error)
	Claim(ctx context.Context, id string) (*models.DeliveryBatch, error)
	Complete(ctx context.Context, id string, result models.BatchResult) error
	Fail(ctx context.Context, id string, processedAt time.Time) error
	ListQueued(ctx context.Context, createdBefore time.Time, limit int64) ([]models.DeliveryBatch, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoBatchRepository implements BatchRepository for MongoDB
type MongoBatchRepository struct {
	collection *mongo.Collection
}

// NewMongoBatchRepository creates a new MongoBatchRepository
func NewMongoBatchRepository(db *mongo.Database) *MongoBatchRepository {
	return &MongoBatchRepository{collection: db.Collection(BatchesCollection)}
}

// Collection exposes the underlying collection for change stream watchers
func (r *MongoBatchRepository) Collection() *mongo.Collection {
	return r.collection
}

// EnsureIndexes creates the indexes used by the poller and the sweeper
func (r *MongoBatchRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "processedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create batch indexes: %w", err)
	}
	return nil
}

// GetByID retrieves a batch by ID
func (r *MongoBatchRepository) GetByID(ctx context.Context, id string) (*models.DeliveryBatch, error) {
	var batch models.DeliveryBatch
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&batch)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// Claim atomically moves a queued batch to processing and returns it.
// ErrStatusConflict means the batch is missing or someone else already took it.
func (r *MongoBatchRepository) Claim(ctx context.Context, id string) (*models.DeliveryBatch, error) {
	var batch models.DeliveryBatch
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.BatchQueued},
		bson.M{"$set": bson.M{"status": models.BatchProcessing}},
		opts,
	).Decode(&batch)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return &batch, nil
}

// Complete finalizes a processing batch with its delivery accounting
func (r *MongoBatchRepository) Complete(ctx context.Context, id string, result models.BatchResult) error {
	errs := result.Errors
	if errs == nil {
		errs = []models.BatchError{}
	}
	return r.finish(ctx, id, bson.M{
		"status":         models.BatchCompleted,
		"recipientCount": result.RecipientCount,
		"successCount":   result.SuccessCount,
		"failureCount":   result.FailureCount,
		"excludedCount":  result.ExcludedCount,
		"errors":         errs,
		"processedAt":    result.ProcessedAt,
	})
}

// Fail marks a processing batch as failed with nothing attempted
func (r *MongoBatchRepository) Fail(ctx context.Context, id string, processedAt time.Time) error {
	return r.finish(ctx, id, bson.M{
		"status":       models.BatchFailed,
		"successCount": 0,
		"failureCount": 0,
		"processedAt":  processedAt,
	})
}

func (r *MongoBatchRepository) finish(ctx context.Context, id string, set bson.M) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.BatchProcessing},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListQueued returns batches still queued that were created before the given time
func (r *MongoBatchRepository) ListQueued(ctx context.Context, createdBefore time.Time, limit int64) ([]models.DeliveryBatch, error) {
	var batches []models.DeliveryBatch
	findOptions := options.Find().SetLimit(limit).SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":    models.BatchQueued,
		"createdAt": bson.M{"$lt": createdBefore},
	}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// DeleteProcessedBefore removes finished batches processed before cutoff.
// Queued and processing batches are never touched.
func (r *MongoBatchRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{
		"status":      bson.M{"$in": []models.BatchStatus{models.BatchCompleted, models.BatchFailed}},
		"processedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("delete processed batches: %w", err)
	}
	return res.DeletedCount, nil
}
