package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/push"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*models.NotificationRecord
	writes  int
}

func newFakeRecords(records ...*models.NotificationRecord) *fakeRecords {
	f := &fakeRecords{records: make(map[string]*models.NotificationRecord)}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeRecords) GetByID(_ context.Context, id string) (*models.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecords) RecordOutcome(_ context.Context, id string, outcome models.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.DeliveryStatus != models.DeliveryPending {
		return repositories.ErrStatusConflict
	}
	f.writes++
	at := outcome.AttemptedAt
	r.DeliveryStatus = outcome.Status
	r.DeliveryAttemptedAt = &at
	r.DeliveryMessageID = outcome.MessageID
	r.DeliveryErrorCode = outcome.ErrorCode
	return nil
}

func (f *fakeRecords) ListPending(context.Context, time.Time, int64) ([]models.NotificationRecord, error) {
	return nil, nil
}

func (f *fakeRecords) DeleteCreatedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRecords) get(id string) models.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

type fakeBatches struct {
	mu      sync.Mutex
	batches map[string]*models.DeliveryBatch
}

func newFakeBatches(batches ...*models.DeliveryBatch) *fakeBatches {
	f := &fakeBatches{batches: make(map[string]*models.DeliveryBatch)}
	for _, b := range batches {
		f.batches[b.ID] = b
	}
	return f
}

func (f *fakeBatches) GetByID(_ context.Context, id string) (*models.DeliveryBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) Claim(_ context.Context, id string) (*models.DeliveryBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok || b.Status != models.BatchQueued {
		return nil, repositories.ErrStatusConflict
	}
	b.Status = models.BatchProcessing
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) Complete(_ context.Context, id string, result models.BatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok || b.Status != models.BatchProcessing {
		return repositories.ErrStatusConflict
	}
	at := result.ProcessedAt
	b.Status = models.BatchCompleted
	b.RecipientCount = result.RecipientCount
	b.SuccessCount = result.SuccessCount
	b.FailureCount = result.FailureCount
	b.ExcludedCount = result.ExcludedCount
	b.Errors = result.Errors
	b.ProcessedAt = &at
	return nil
}

func (f *fakeBatches) Fail(_ context.Context, id string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok || b.Status != models.BatchProcessing {
		return repositories.ErrStatusConflict
	}
	b.Status = models.BatchFailed
	b.SuccessCount = 0
	b.FailureCount = 0
	b.ProcessedAt = &processedAt
	return nil
}

func (f *fakeBatches) ListQueued(context.Context, time.Time, int64) ([]models.DeliveryBatch, error) {
	return nil, nil
}

func (f *fakeBatches) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeBatches) get(id string) models.DeliveryBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.batches[id]
}

type fakeProfiles struct {
	mu        sync.Mutex
	tokens    map[string]string
	missing   map[string]bool
	getErr    error
	removeErr error
	removals  []string
}

func newFakeProfiles(tokens map[string]string) *fakeProfiles {
	return &fakeProfiles{tokens: tokens, missing: map[string]bool{}}
}

func (f *fakeProfiles) GetPushToken(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	if f.missing[userID] {
		return "", repositories.ErrNotFound
	}
	return f.tokens[userID], nil
}

func (f *fakeProfiles) RemovePushToken(_ context.Context, userID, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, userID)
	if f.removeErr != nil {
		return false, f.removeErr
	}
	if f.tokens[userID] != token {
		return false, nil
	}
	delete(f.tokens, userID)
	return true, nil
}

func (f *fakeProfiles) token(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[userID]
	return t, ok
}

// fakeGateway answers per token: tokens listed in failures fail with that error
type fakeGateway struct {
	mu          sync.Mutex
	failures    map[string]error
	sendManyErr error
	oneCalls    int
	manyCalls   int
	lastPayload push.Payload
	lastTokens  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failures: map[string]error{}}
}

func (g *fakeGateway) SendOne(_ context.Context, token string, payload push.Payload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oneCalls++
	g.lastPayload = payload
	g.lastTokens = []string{token}
	if err, ok := g.failures[token]; ok {
		return "", err
	}
	return "msg-1", nil
}

func (g *fakeGateway) SendMany(_ context.Context, tokens []string, payload push.Payload) ([]push.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.manyCalls++
	g.lastPayload = payload
	g.lastTokens = append([]string(nil), tokens...)
	if g.sendManyErr != nil {
		return nil, g.sendManyErr
	}
	results := make([]push.SendResult, len(tokens))
	for i, t := range tokens {
		results[i] = push.SendResult{Token: t}
		if err, ok := g.failures[t]; ok {
			results[i].Err = err
		} else {
			results[i].MessageID = "msg-" + t
		}
	}
	return results, nil
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.oneCalls, g.manyCalls
}

var (
	errNotRegistered = &push.Error{Code: push.CodeTokenNotRegistered, Message: "Requested entity was not found."}
	errUnavailable   = &push.Error{Code: push.CodeUnavailable, Message: "The service is currently unavailable."}
	errSenderID      = &push.Error{Code: push.CodeSenderIDMismatch, Message: "SenderId mismatch"}
	errStore         = errors.New("connection reset by peer")
)
