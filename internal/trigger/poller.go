package trigger

import (
	"context"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Minute
	DefaultPollGrace    = time.Minute
	pollPageSize        = 500
)

// Poller re-submits records still pending and batches still queued after
// the grace period, covering triggers missed while the watchers were down.
type Poller struct {
	records  repositories.NotificationRepository
	batches  repositories.BatchRepository
	singles  Submitter
	multis   Submitter
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	now      func() time.Time
}

func NewPoller(
	records repositories.NotificationRepository,
	batches repositories.BatchRepository,
	singles Submitter,
	multis Submitter,
	interval time.Duration,
	grace time.Duration,
	logger *zap.Logger,
) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if grace <= 0 {
		grace = DefaultPollGrace
	}
	return &Poller{
		records:  records,
		batches:  batches,
		singles:  singles,
		multis:   multis,
		interval: interval,
		grace:    grace,
		logger:   logger,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Poll submits one page of stale pending records and queued batches and
// returns how many ids were handed to the pools.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	before := p.now().Add(-p.grace)
	submitted := 0

	records, err := p.records.ListPending(ctx, before, pollPageSize)
	if err != nil {
		return submitted, err
	}
	for _, r := range records {
		if p.singles.Submit(ctx, r.ID) {
			submitted++
		}
	}

	batches, err := p.batches.ListQueued(ctx, before, pollPageSize)
	if err != nil {
		return submitted, err
	}
	for _, b := range batches {
		if p.multis.Submit(ctx, b.ID) {
			submitted++
		}
	}

	if submitted > 0 {
		p.logger.Info("Recovered undispatched work",
			zap.Int("records", len(records)),
			zap.Int("batches", len(batches)))
	}
	return submitted, nil
}

func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting recovery poller", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("Recovery poll failed", zap.Error(err))
			}

		case <-p.stopChan:
			p.logger.Info("Stopping recovery poller")
			return

		case <-ctx.Done():
			p.logger.Info("Context cancelled, stopping recovery poller")
			return
		}
	}
}

func (p *Poller) Stop() {
	close(p.stopChan)
}
