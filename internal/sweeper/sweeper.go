// Package sweeper prunes delivered notification records and finished
// delivery batches once they fall out of their retention window.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultLockTTL   = 10 * time.Minute

	lockKey = "notifier:lock:retention-sweep"
)

// Result summarizes one sweep run
type Result struct {
	RunID                string
	NotificationCutoff   time.Time
	NotificationsDeleted int64
	BatchesDeleted       int64
	Skipped              bool
}

type Sweeper struct {
	records        repositories.NotificationRepository
	batches        repositories.BatchRepository
	locker         Locker
	retention      time.Duration
	batchRetention time.Duration
	lockTTL        time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// Options tune a Sweeper. A zero BatchRetention leaves batches alone.
type Options struct {
	Retention      time.Duration
	BatchRetention time.Duration
	LockTTL        time.Duration
}

func NewSweeper(
	records repositories.NotificationRepository,
	batches repositories.BatchRepository,
	locker Locker,
	opts Options,
	logger *zap.Logger,
) *Sweeper {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Sweeper{
		records:        records,
		batches:        batches,
		locker:         locker,
		retention:      opts.Retention,
		batchRetention: opts.BatchRetention,
		lockTTL:        opts.LockTTL,
		logger:         logger,
		now:            time.Now,
	}
}

// Sweep deletes every notification record created before now minus the
// retention window, then finished batches past the batch window. A run that
// finds the lock held by another instance is skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := s.logger.With(zap.String("run_id", res.RunID))

	release, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
	if errors.Is(err, ErrLockHeld) {
		log.Info("Retention sweep already running elsewhere, skipping")
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	now := s.now()
	res.NotificationCutoff = now.Add(-s.retention)

	n, err := s.records.DeleteCreatedBefore(ctx, res.NotificationCutoff)
	if err != nil {
		return res, fmt.Errorf("delete expired notifications: %w", err)
	}
	res.NotificationsDeleted = n

	if s.batchRetention > 0 {
		n, err := s.batches.DeleteProcessedBefore(ctx, now.Add(-s.batchRetention))
		if err != nil {
			return res, fmt.Errorf("delete expired batches: %w", err)
		}
		res.BatchesDeleted = n
	}

	log.Info("Retention sweep finished",
		zap.Time("cutoff", res.NotificationCutoff),
		zap.Int64("notifications_deleted", res.NotificationsDeleted),
		zap.Int64("batches_deleted", res.BatchesDeleted))
	return res, nil
}
