// Package dispatcher turns notification records and delivery batches into
// push deliveries and writes the outcome back to them.
package dispatcher

import (
	"context"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const DefaultCleanupTimeout = 10 * time.Second

var validate = validator.New()

// tokenCleaner removes push tokens the gateway reported as permanently invalid.
// Failures are logged and never propagated.
type tokenCleaner struct {
	profiles repositories.ProfileRepository
	timeout  time.Duration
	logger   *zap.Logger
}

func newTokenCleaner(profiles repositories.ProfileRepository, timeout time.Duration, logger *zap.Logger) *tokenCleaner {
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	return &tokenCleaner{profiles: profiles, timeout: timeout, logger: logger}
}

func (c *tokenCleaner) remove(ctx context.Context, userID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	removed, err := c.profiles.RemovePushToken(ctx, userID, token)
	if err != nil {
		c.logger.Warn("Failed to remove invalid push token",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if removed {
		c.logger.Info("Removed invalid push token", zap.String("user_id", userID))
		return
	}
	c.logger.Debug("Push token already removed or replaced", zap.String("user_id", userID))
}
