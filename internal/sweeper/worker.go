package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker runs a Sweeper once a day on its Schedule
type Worker struct {
	sweeper  *Sweeper
	schedule Schedule
	logger   *zap.Logger
	stopChan chan struct{}
	now      func() time.Time
}

func NewWorker(sweeper *Sweeper, schedule Schedule, logger *zap.Logger) *Worker {
	return &Worker{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start blocks until Stop is called or ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting retention sweep worker",
		zap.Int("hour", w.schedule.Hour),
		zap.Stringer("timezone", w.schedule.Location))

	for {
		next := w.schedule.Next(w.now())
		timer := time.NewTimer(time.Until(next))
		w.logger.Debug("Next retention sweep scheduled", zap.Time("at", next))

		select {
		case <-timer.C:
			if _, err := w.sweeper.Sweep(ctx); err != nil {
				w.logger.Error("Retention sweep failed", zap.Error(err))
			}

		case <-w.stopChan:
			timer.Stop()
			w.logger.Info("Stopping retention sweep worker")
			return

		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("Context cancelled, stopping retention sweep worker")
			return
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopChan)
}
