package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const DefaultRetryDelay = 5 * time.Second

// Server error codes after which a stored resume token can never be reused
const (
	codeInvalidResumeToken      = 260
	codeChangeStreamHistoryLost = 286
)

// Watcher follows inserts on a collection through a change stream and
// submits the id of every new document that matches its status filter.
type Watcher struct {
	name       string
	collection *mongo.Collection
	pipeline   mongo.Pipeline
	submitter  Submitter
	retryDelay time.Duration
	logger     *zap.Logger
	resumeAt   bson.Raw
}

func newWatcher(name string, coll *mongo.Collection, statusField string, status string, submitter Submitter, logger *zap.Logger) *Watcher {
	return &Watcher{
		name:       name,
		collection: coll,
		pipeline:   insertPipeline(statusField, status),
		submitter:  submitter,
		retryDelay: DefaultRetryDelay,
		logger:     logger.With(zap.String("watcher", name)),
	}
}

// NewNotificationWatcher watches for records created in the pending state
func NewNotificationWatcher(coll *mongo.Collection, submitter Submitter, logger *zap.Logger) *Watcher {
	return newWatcher("notifications", coll, "deliveryStatus", string(models.DeliveryPending), submitter, logger)
}

// NewBatchWatcher watches for batches created in the queued state
func NewBatchWatcher(coll *mongo.Collection, submitter Submitter, logger *zap.Logger) *Watcher {
	return newWatcher("batches", coll, "status", string(models.BatchQueued), submitter, logger)
}

func insertPipeline(statusField, status string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument." + statusField, Value: status},
		}}},
	}
}

// Run watches until ctx is cancelled, reopening the stream from the last
// seen resume token after a failure.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Starting change stream watcher")
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Context cancelled, stopping change stream watcher")
			return nil
		}
		w.afterFailure(err)

		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// afterFailure logs a stream failure and drops the resume token when the
// server can no longer resume from it. Inserts missed in between are left
// to the poller.
func (w *Watcher) afterFailure(err error) {
	if w.resumeAt != nil && resumeTokenLost(err) {
		w.logger.Warn("Resume token no longer usable, reopening change stream from now",
			zap.Error(err), zap.Duration("retry_in", w.retryDelay))
		w.resumeAt = nil
		return
	}
	w.logger.Error("Change stream interrupted", zap.Error(err), zap.Duration("retry_in", w.retryDelay))
}

func resumeTokenLost(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorCode(codeChangeStreamHistoryLost) || se.HasErrorCode(codeInvalidResumeToken)
}

func (w *Watcher) watch(ctx context.Context) error {
	opts := options.ChangeStream()
	if w.resumeAt != nil {
		opts.SetResumeAfter(w.resumeAt)
	}

	stream, err := w.collection.Watch(ctx, w.pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for stream.Next(ctx) {
		id, err := documentID(stream.Current)
		if err != nil {
			w.logger.Warn("Skipping change event", zap.Error(err))
		} else {
			w.submitter.Submit(ctx, id)
		}
		w.resumeAt = stream.ResumeToken()
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("change stream closed")
}

type changeEvent struct {
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// documentID extracts the inserted document's id from a change event
func documentID(raw bson.Raw) (string, error) {
	var ev changeEvent
	if err := bson.Unmarshal(raw, &ev); err != nil {
		return "", fmt.Errorf("decode change event: %w", err)
	}
	if ev.DocumentKey.ID == "" {
		return "", errors.New("change event has no document id")
	}
	return ev.DocumentKey.ID, nil
}
