package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/push"
	"go.uber.org/zap"
)

func queuedBatch(id string, recipients ...string) *models.DeliveryBatch {
	return &models.DeliveryBatch{
		ID:               id,
		FamilyID:         "fam-1",
		NotificationType: models.TypeTaskCompleted,
		RecipientIDs:     recipients,
		PayloadTemplate: models.PayloadTemplate{
			Title:        "Task completed",
			Body:         "Alex finished \"Walk the dog\"",
			Priority:     models.PriorityNormal,
			TargetEntity: models.TargetEntity{EntityType: "task", EntityID: "task-7"},
		},
		Status:    models.BatchQueued,
		CreatedAt: fixedNow.Add(-time.Minute),
	}
}

func newTestBatch(batches *fakeBatches, profiles *fakeProfiles, gw *fakeGateway) *BatchDispatcher {
	d := NewBatchDispatcher(batches, profiles, gw, zap.NewNop(), 4, time.Second)
	d.now = fixedClock
	return d
}

func TestBatchDispatchMixedOutcomes(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u-none", "u-ok", "u-dead"))
	profiles := newFakeProfiles(map[string]string{"u-ok": "tok-ok", "u-dead": "tok-dead"})
	gw := newFakeGateway()
	gw.failures["tok-dead"] = errNotRegistered

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	got := batches.get("b1")
	if got.Status != models.BatchCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.SuccessCount != 1 || got.FailureCount != 2 {
		t.Errorf("success/failure = %d/%d, want 1/2", got.SuccessCount, got.FailureCount)
	}
	if got.ExcludedCount != 1 {
		t.Errorf("excluded = %d, want 1", got.ExcludedCount)
	}
	if got.ProcessedAt == nil {
		t.Error("processedAt not set")
	}
	if _, ok := profiles.token("u-dead"); ok {
		t.Error("invalid token was not removed")
	}
	if tok, _ := profiles.token("u-ok"); tok != "tok-ok" {
		t.Errorf("healthy token changed to %q", tok)
	}

	if len(got.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2 entries", got.Errors)
	}
	if got.Errors[0].UserID != "u-none" || got.Errors[0].ErrorCode != models.ErrorCodeNoEndpoint {
		t.Errorf("errors[0] = %+v", got.Errors[0])
	}
	if got.Errors[1].UserID != "u-dead" || got.Errors[1].EndpointToken != "tok-dead" ||
		got.Errors[1].ErrorCode != push.CodeTokenNotRegistered {
		t.Errorf("errors[1] = %+v", got.Errors[1])
	}

	if _, many := gw.calls(); many != 1 {
		t.Errorf("multicast calls = %d, want 1", many)
	}
	if len(gw.lastTokens) != 2 {
		t.Errorf("sent tokens = %v, want 2", gw.lastTokens)
	}
	if gw.lastPayload.Channel != "tasks" || gw.lastPayload.Data["batchId"] != "b1" {
		t.Errorf("payload = %+v", gw.lastPayload)
	}
}

func TestBatchDispatchSkipsNonQueued(t *testing.T) {
	for _, status := range []models.BatchStatus{models.BatchProcessing, models.BatchCompleted, models.BatchFailed} {
		t.Run(string(status), func(t *testing.T) {
			b := queuedBatch("b1", "u1")
			b.Status = status
			batches := newFakeBatches(b)
			gw := newFakeGateway()

			if err := newTestBatch(batches, newFakeProfiles(map[string]string{"u1": "tok-1"}), gw).Dispatch(context.Background(), "b1"); err != nil {
				t.Fatalf("Dispatch returned error: %v", err)
			}
			if one, many := gw.calls(); one+many != 0 {
				t.Errorf("gateway called %d times, want 0", one+many)
			}
			if got := batches.get("b1"); got.Status != status {
				t.Errorf("status = %q, want %q", got.Status, status)
			}
		})
	}
}

func TestBatchDispatchTwiceSendsOnce(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2"))
	gw := newFakeGateway()
	d := newTestBatch(batches, newFakeProfiles(map[string]string{"u1": "t1", "u2": "t2"}), gw)

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(context.Background(), "b1"); err != nil {
			t.Fatalf("Dispatch #%d returned error: %v", i, err)
		}
	}
	if _, many := gw.calls(); many != 1 {
		t.Errorf("multicast calls = %d, want 1", many)
	}
}

func TestBatchDispatchNoEndpoints(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2", "u1", "u3"))
	profiles := newFakeProfiles(map[string]string{})
	profiles.missing["u3"] = true
	gw := newFakeGateway()

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	got := batches.get("b1")
	if got.Status != models.BatchCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.SuccessCount != 0 || got.FailureCount != 3 || got.ExcludedCount != 3 {
		t.Errorf("success/failure/excluded = %d/%d/%d, want 0/3/3", got.SuccessCount, got.FailureCount, got.ExcludedCount)
	}
	if len(got.Errors) != 3 {
		t.Errorf("errors = %d, want 3", len(got.Errors))
	}
	if one, many := gw.calls(); one+many != 0 {
		t.Errorf("gateway called %d times, want 0", one+many)
	}
}

func TestBatchDispatchDeduplicatesRecipients(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2", "u1", "", "u2"))
	gw := newFakeGateway()

	if err := newTestBatch(batches, newFakeProfiles(map[string]string{"u1": "t1", "u2": "t2"}), gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(gw.lastTokens) != 2 || gw.lastTokens[0] != "t1" || gw.lastTokens[1] != "t2" {
		t.Errorf("sent tokens = %v, want [t1 t2]", gw.lastTokens)
	}
	got := batches.get("b1")
	if got.RecipientCount != 2 || got.SuccessCount != 2 || got.FailureCount != 0 {
		t.Errorf("recipients/success/failure = %d/%d/%d", got.RecipientCount, got.SuccessCount, got.FailureCount)
	}
}

func TestBatchDispatchHardGatewayFailure(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2"))
	profiles := newFakeProfiles(map[string]string{"u1": "t1", "u2": "t2"})
	gw := newFakeGateway()
	gw.sendManyErr = errors.New("transport is closing")
	gw.failures["t1"] = errNotRegistered

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	got := batches.get("b1")
	if got.Status != models.BatchFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.SuccessCount != 0 || got.FailureCount != 0 {
		t.Errorf("success/failure = %d/%d, want 0/0", got.SuccessCount, got.FailureCount)
	}
	if got.ProcessedAt == nil {
		t.Error("processedAt not set")
	}
	if len(profiles.removals) != 0 {
		t.Errorf("removals = %v, want none", profiles.removals)
	}
}

func TestBatchDispatchResolutionFailure(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2"))
	profiles := newFakeProfiles(nil)
	profiles.getErr = errStore
	gw := newFakeGateway()

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if got := batches.get("b1"); got.Status != models.BatchFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if _, many := gw.calls(); many != 0 {
		t.Errorf("multicast calls = %d, want 0", many)
	}
}

func TestBatchDispatchTransientFailureKeepsTokens(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2"))
	profiles := newFakeProfiles(map[string]string{"u1": "t1", "u2": "t2"})
	gw := newFakeGateway()
	gw.failures["t1"] = errUnavailable

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	got := batches.get("b1")
	if got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Errorf("success/failure = %d/%d, want 1/1", got.SuccessCount, got.FailureCount)
	}
	if tok, _ := profiles.token("u1"); tok != "t1" {
		t.Errorf("token for u1 = %q, want t1", tok)
	}
	if len(profiles.removals) != 0 {
		t.Errorf("removals = %v, want none", profiles.removals)
	}
}

func TestBatchDispatchSenderMismatchKeepsTokens(t *testing.T) {
	batches := newFakeBatches(queuedBatch("b1", "u1", "u2"))
	profiles := newFakeProfiles(map[string]string{"u1": "t1", "u2": "t2"})
	gw := newFakeGateway()
	gw.failures["t1"] = errSenderID
	gw.failures["t2"] = errSenderID

	if err := newTestBatch(batches, profiles, gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	got := batches.get("b1")
	if got.Status != models.BatchCompleted || got.FailureCount != 2 {
		t.Errorf("status/failure = %q/%d", got.Status, got.FailureCount)
	}
	if len(profiles.removals) != 0 {
		t.Errorf("removals = %v, want none", profiles.removals)
	}
}

func TestBatchDispatchInvalidBatchFails(t *testing.T) {
	b := queuedBatch("b1", "u1")
	b.PayloadTemplate.Title = ""
	batches := newFakeBatches(b)
	gw := newFakeGateway()

	if err := newTestBatch(batches, newFakeProfiles(map[string]string{"u1": "t1"}), gw).Dispatch(context.Background(), "b1"); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if got := batches.get("b1"); got.Status != models.BatchFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if _, many := gw.calls(); many != 0 {
		t.Errorf("multicast calls = %d, want 0", many)
	}
}

func TestBatchAccountingMatchesRecipients(t *testing.T) {
	for n := 1; n <= 12; n++ {
		t.Run(fmt.Sprintf("recipients=%d", n), func(t *testing.T) {
			recipients := make([]string, 0, n*2)
			tokens := map[string]string{}
			gw := newFakeGateway()
			for i := 0; i < n; i++ {
				userID := fmt.Sprintf("u%d", i)
				recipients = append(recipients, userID, userID)
				switch i % 4 {
				case 0:
					// no token
				case 1:
					tokens[userID] = "tok-" + userID
				case 2:
					tokens[userID] = "tok-" + userID
					gw.failures["tok-"+userID] = errNotRegistered
				case 3:
					tokens[userID] = "tok-" + userID
					gw.failures["tok-"+userID] = errUnavailable
				}
			}
			batches := newFakeBatches(queuedBatch("b1", recipients...))

			if err := newTestBatch(batches, newFakeProfiles(tokens), gw).Dispatch(context.Background(), "b1"); err != nil {
				t.Fatalf("Dispatch returned error: %v", err)
			}
			got := batches.get("b1")
			if got.Status != models.BatchCompleted {
				t.Fatalf("status = %q", got.Status)
			}
			if got.SuccessCount+got.FailureCount != n {
				t.Errorf("success+failure = %d, want %d", got.SuccessCount+got.FailureCount, n)
			}
			if len(got.Errors) != got.FailureCount {
				t.Errorf("errors = %d, failure = %d", len(got.Errors), got.FailureCount)
			}
		})
	}
}

func TestPairResultsByToken(t *testing.T) {
	targets := []target{
		{recipient: 0, userID: "a", token: "ta"},
		{recipient: 1, userID: "b", token: "tb"},
		{recipient: 2, userID: "c", token: "ta"},
	}
	results := []push.SendResult{
		{Token: "tb", MessageID: "m-b"},
		{Token: "ta", MessageID: "m-a1"},
		{Token: "ta", Err: errUnavailable},
	}

	paired, err := pairResults(targets, results)
	if err != nil {
		t.Fatalf("pairResults returned error: %v", err)
	}
	if paired[0].MessageID != "m-a1" || paired[1].MessageID != "m-b" || paired[2].Err == nil {
		t.Errorf("paired = %+v", paired)
	}
}

func TestPairResultsRejectsMismatch(t *testing.T) {
	targets := []target{{userID: "a", token: "ta"}, {userID: "b", token: "tb"}}

	if _, err := pairResults(targets, []push.SendResult{{Token: "ta"}}); err == nil {
		t.Error("expected error for short result list")
	}
	if _, err := pairResults(targets, []push.SendResult{{Token: "ta"}, {Token: "tx"}}); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestDedupeRecipients(t *testing.T) {
	got := dedupeRecipients([]string{"b", "a", "", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
