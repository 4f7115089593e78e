package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/push"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultResolveConcurrency = 16

// BatchDispatcher delivers one delivery batch to all of its recipients with a single multicast
type BatchDispatcher struct {
	batches            repositories.BatchRepository
	profiles           repositories.ProfileRepository
	gateway            push.Gateway
	cleaner            *tokenCleaner
	resolveConcurrency int
	logger             *zap.Logger
	now                func() time.Time
}

// NewBatchDispatcher creates a new BatchDispatcher
func NewBatchDispatcher(
	batches repositories.BatchRepository,
	profiles repositories.ProfileRepository,
	gateway push.Gateway,
	logger *zap.Logger,
	resolveConcurrency int,
	cleanupTimeout time.Duration,
) *BatchDispatcher {
	if resolveConcurrency <= 0 {
		resolveConcurrency = DefaultResolveConcurrency
	}
	return &BatchDispatcher{
		batches:            batches,
		profiles:           profiles,
		gateway:            gateway,
		cleaner:            newTokenCleaner(profiles, cleanupTimeout, logger),
		resolveConcurrency: resolveConcurrency,
		logger:             logger,
		now:                time.Now,
	}
}

type target struct {
	recipient int // index into the deduplicated recipient list
	userID    string
	token     string
}

// Dispatch processes the delivery batch with the given id.
//
// The batch is claimed (queued -> processing) before any other I/O so a
// duplicate trigger for the same batch is a no-op.
func (d *BatchDispatcher) Dispatch(ctx context.Context, id string) error {
	log := d.logger.With(zap.String("batch_id", id))

	batch, err := d.batches.Claim(ctx, id)
	if errors.Is(err, repositories.ErrStatusConflict) {
		log.Debug("Batch is not queued, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim batch %s: %w", id, err)
	}
	log = log.With(zap.String("family_id", batch.FamilyID), zap.String("type", string(batch.NotificationType)))

	if err := validate.Struct(batch); err != nil {
		log.Warn("Invalid delivery batch", zap.Error(err))
		return d.fail(ctx, log, id)
	}

	recipients := dedupeRecipients(batch.RecipientIDs)
	tokens, err := d.resolveEndpoints(ctx, recipients)
	if err != nil {
		log.Error("Failed to resolve push endpoints", zap.Error(err))
		return d.fail(ctx, log, id)
	}

	now := d.now()
	result := models.BatchResult{RecipientCount: len(recipients)}
	targets := make([]target, 0, len(recipients))
	for i, userID := range recipients {
		if tokens[i] == "" {
			result.ExcludedCount++
			continue
		}
		targets = append(targets, target{recipient: i, userID: userID, token: tokens[i]})
	}

	if len(targets) == 0 {
		log.Info("No push endpoints in batch", zap.Int("recipients", len(recipients)))
		result.FailureCount = len(recipients)
		result.Errors = noEndpointErrors(recipients, tokens, now)
		result.ProcessedAt = now
		return d.complete(ctx, log, id, result)
	}

	sendTokens := make([]string, len(targets))
	for i, t := range targets {
		sendTokens[i] = t.token
	}

	responses, err := d.gateway.SendMany(ctx, sendTokens, push.PayloadForBatch(batch))
	if err != nil {
		log.Error("Multicast send failed", zap.Error(err))
		return d.fail(ctx, log, id)
	}
	paired, err := pairResults(targets, responses)
	if err != nil {
		log.Error("Multicast response does not match request", zap.Error(err))
		return d.fail(ctx, log, id)
	}

	processedAt := d.now()
	outcomes := make([]*push.SendResult, len(recipients))
	for i := range targets {
		outcomes[targets[i].recipient] = &paired[i]
	}

	var invalid []target
	for i, userID := range recipients {
		res := outcomes[i]
		switch {
		case res == nil:
			result.FailureCount++
			result.Errors = append(result.Errors, noEndpointError(userID, processedAt))
		case res.Success():
			result.SuccessCount++
		default:
			result.FailureCount++
			result.Errors = append(result.Errors, models.BatchError{
				UserID:        userID,
				EndpointToken: tokens[i],
				ErrorCode:     push.CodeOf(res.Err),
				ErrorMessage:  res.Err.Error(),
				Timestamp:     processedAt,
			})
			if push.IsInvalidEndpoint(res.Err) {
				invalid = append(invalid, target{recipient: i, userID: userID, token: tokens[i]})
			}
		}
	}
	result.ProcessedAt = processedAt

	log.Info("Batch delivered",
		zap.Int("recipients", result.RecipientCount),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
		zap.Int("excluded", result.ExcludedCount))

	completeErr := d.complete(ctx, log, id, result)
	d.removeInvalid(ctx, invalid)
	return completeErr
}

// resolveEndpoints looks up every recipient's push token concurrently.
// tokens[i] is "" when recipients[i] has no token or no profile.
func (d *BatchDispatcher) resolveEndpoints(ctx context.Context, recipients []string) ([]string, error) {
	tokens := make([]string, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.resolveConcurrency)
	for i, userID := range recipients {
		g.Go(func() error {
			token, err := d.profiles.GetPushToken(gctx, userID)
			if errors.Is(err, repositories.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve endpoint for %s: %w", userID, err)
			}
			tokens[i] = token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// removeInvalid clears permanently invalid tokens after the batch is finalized
func (d *BatchDispatcher) removeInvalid(ctx context.Context, invalid []target) {
	var wg sync.WaitGroup
	for _, t := range invalid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.cleaner.remove(ctx, t.userID, t.token)
		}()
	}
	wg.Wait()
}

func (d *BatchDispatcher) complete(ctx context.Context, log *zap.Logger, id string, result models.BatchResult) error {
	err := d.batches.Complete(ctx, id, result)
	if errors.Is(err, repositories.ErrStatusConflict) {
		log.Warn("Batch was finalized by another invocation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", id, err)
	}
	return nil
}

func (d *BatchDispatcher) fail(ctx context.Context, log *zap.Logger, id string) error {
	err := d.batches.Fail(ctx, id, d.now())
	if errors.Is(err, repositories.ErrStatusConflict) {
		log.Warn("Batch was finalized by another invocation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail batch %s: %w", id, err)
	}
	return nil
}

// dedupeRecipients drops blank and repeated ids, keeping first-seen order
func dedupeRecipients(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// pairResults aligns gateway results with targets. Results that carry their
// token are matched by token; otherwise input order is assumed.
func pairResults(targets []target, results []push.SendResult) ([]push.SendResult, error) {
	if len(results) != len(targets) {
		return nil, fmt.Errorf("got %d results for %d endpoints", len(results), len(targets))
	}

	byToken := make(map[string][]int, len(results))
	for i, r := range results {
		if r.Token == "" {
			return results, nil
		}
		byToken[r.Token] = append(byToken[r.Token], i)
	}

	paired := make([]push.SendResult, len(targets))
	for i, t := range targets {
		idx := byToken[t.token]
		if len(idx) == 0 {
			return nil, fmt.Errorf("no result for endpoint of user %s", t.userID)
		}
		paired[i] = results[idx[0]]
		byToken[t.token] = idx[1:]
	}
	return paired, nil
}

func noEndpointError(userID string, at time.Time) models.BatchError {
	return models.BatchError{
		UserID:       userID,
		ErrorCode:    models.ErrorCodeNoEndpoint,
		ErrorMessage: "recipient has no registered push endpoint",
		Timestamp:    at,
	}
}

func noEndpointErrors(recipients, tokens []string, at time.Time) []models.BatchError {
	errs := make([]models.BatchError, 0, len(recipients))
	for i, userID := range recipients {
		if tokens[i] == "" {
			errs = append(errs, noEndpointError(userID, at))
		}
	}
	return errs
}
