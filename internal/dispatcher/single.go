package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/push"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"go.uber.org/zap"
)

// SingleDispatcher delivers one notification record to its recipient's device
type SingleDispatcher struct {
	records  repositories.NotificationRepository
	profiles repositories.ProfileRepository
	gateway  push.Gateway
	cleaner  *tokenCleaner
	logger   *zap.Logger
	now      func() time.Time
}

// NewSingleDispatcher creates a new SingleDispatcher
func NewSingleDispatcher(
	records repositories.NotificationRepository,
	profiles repositories.ProfileRepository,
	gateway push.Gateway,
	logger *zap.Logger,
	cleanupTimeout time.Duration,
) *SingleDispatcher {
	return &SingleDispatcher{
		records:  records,
		profiles: profiles,
		gateway:  gateway,
		cleaner:  newTokenCleaner(profiles, cleanupTimeout, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch processes the notification record with the given id.
//
// Records that are missing or no longer pending are skipped without touching
// the gateway. Delivery failures are written to the record; the returned
// error only reports store failures.
func (d *SingleDispatcher) Dispatch(ctx context.Context, id string) error {
	log := d.logger.With(zap.String("notification_id", id))

	record, err := d.records.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info("Notification no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification %s: %w", id, err)
	}
	if record.DeliveryStatus != models.DeliveryPending {
		log.Debug("Notification already processed, skipping",
			zap.String("delivery_status", string(record.DeliveryStatus)))
		return nil
	}

	log = log.With(zap.String("user_id", record.RecipientUserID), zap.String("type", string(record.Type)))
	now := d.now()

	if err := validate.Struct(record); err != nil {
		log.Warn("Invalid notification record", zap.Error(err))
		return d.finish(ctx, log, id, failedOutcome(models.ErrorCodeInvalidRecord, now))
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(now) {
		log.Info("Notification expired before delivery")
		return d.finish(ctx, log, id, failedOutcome(models.ErrorCodeExpired, now))
	}

	token, err := d.profiles.GetPushToken(ctx, record.RecipientUserID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		log.Warn("Recipient profile not found")
		token = ""
	case err != nil:
		log.Error("Failed to resolve push endpoint", zap.Error(err))
		return d.finish(ctx, log, id, failedOutcome(models.ErrorCodeEndpointLookup, now))
	}
	if token == "" {
		log.Info("No push token registered for recipient")
		return d.finish(ctx, log, id, failedOutcome(models.ErrorCodeNoEndpoint, now))
	}

	messageID, sendErr := d.gateway.SendOne(ctx, token, push.PayloadForRecord(record, now))
	attemptedAt := d.now()
	if sendErr == nil {
		log.Info("Push notification sent", zap.String("message_id", messageID))
		return d.finish(ctx, log, id, models.DeliveryOutcome{
			Status:      models.DeliverySent,
			MessageID:   messageID,
			AttemptedAt: attemptedAt,
		})
	}

	code := push.CodeOf(sendErr)
	log.Warn("Push notification failed", zap.String("error_code", code), zap.Error(sendErr))
	finishErr := d.finish(ctx, log, id, failedOutcome(code, attemptedAt))

	if push.IsInvalidEndpoint(sendErr) {
		d.cleaner.remove(ctx, record.RecipientUserID, token)
	}
	return finishErr
}

func (d *SingleDispatcher) finish(ctx context.Context, log *zap.Logger, id string, outcome models.DeliveryOutcome) error {
	err := d.records.RecordOutcome(ctx, id, outcome)
	if errors.Is(err, repositories.ErrStatusConflict) {
		log.Info("Notification finalized by another invocation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record outcome for notification %s: %w", id, err)
	}
	return nil
}

func failedOutcome(code string, at time.Time) models.DeliveryOutcome {
	return models.DeliveryOutcome{
		Status:      models.DeliveryFailed,
		ErrorCode:   code,
		AttemptedAt: at,
	}
}
