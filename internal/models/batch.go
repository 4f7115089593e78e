package models

import "time"

// BatchStatus of a delivery batch
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// PayloadTemplate is the one message shared by every recipient of a batch
type PayloadTemplate struct {
	Title        string            `json:"title" bson:"title" validate:"required"`
	Body         string            `json:"body" bson:"body"`
	ImageURL     string            `json:"imageUrl,omitempty" bson:"imageUrl,omitempty" validate:"omitempty,url"`
	Priority     Priority          `json:"priority" bson:"priority"`
	TargetEntity TargetEntity      `json:"targetEntity" bson:"targetEntity"`
	Data         map[string]string `json:"data,omitempty" bson:"data,omitempty"`
}

// BatchError records one recipient that did not receive the batch
type BatchError struct {
	UserID        string    `json:"userId" bson:"userId"`
	EndpointToken string    `json:"endpointToken,omitempty" bson:"endpointToken,omitempty"`
	ErrorCode     string    `json:"errorCode" bson:"errorCode"`
	ErrorMessage  string    `json:"errorMessage" bson:"errorMessage"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
}

// DeliveryBatch fans a single event out to many recipients (MongoDB)
type DeliveryBatch struct {
	ID               string           `json:"id" bson:"_id" validate:"required"`
	FamilyID         string           `json:"familyId" bson:"familyId" validate:"required"`
	NotificationType NotificationType `json:"notificationType" bson:"notificationType" validate:"required"`
	RecipientIDs     []string         `json:"recipientIds" bson:"recipientIds"`
	PayloadTemplate  PayloadTemplate  `json:"payloadTemplate" bson:"payloadTemplate"`

	Status         BatchStatus  `json:"status" bson:"status"`
	RecipientCount int          `json:"recipientCount" bson:"recipientCount"`
	SuccessCount   int          `json:"successCount" bson:"successCount"`
	FailureCount   int          `json:"failureCount" bson:"failureCount"`
	ExcludedCount  int          `json:"excludedCount" bson:"excludedCount"`
	Errors         []BatchError `json:"errors,omitempty" bson:"errors,omitempty"`
	CreatedAt      time.Time    `json:"createdAt" bson:"createdAt"`
	ProcessedAt    *time.Time   `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
}

// BatchResult is the final accounting written when a batch completes.
// ExcludedCount is the part of FailureCount that had no push endpoint.
type BatchResult struct {
	RecipientCount int
	SuccessCount   int
	FailureCount   int
	ExcludedCount  int
	Errors         []BatchError
	ProcessedAt    time.Time
}

// BatchSummary is the read-only view of a batch exposed to downstream consumers
type BatchSummary struct {
	ID               string           `json:"id"`
	FamilyID         string           `json:"familyId"`
	NotificationType NotificationType `json:"notificationType"`
	Status           BatchStatus      `json:"status"`
	RecipientCount   int              `json:"recipientCount"`
	SuccessCount     int              `json:"successCount"`
	FailureCount     int              `json:"failureCount"`
	ExcludedCount    int              `json:"excludedCount"`
	Errors           []BatchError     `json:"errors"`
	CreatedAt        time.Time        `json:"createdAt"`
	ProcessedAt      *time.Time       `json:"processedAt,omitempty"`
}

func (b *DeliveryBatch) ToSummary() BatchSummary {
	errs := b.Errors
	if errs == nil {
		errs = []BatchError{}
	}
	return BatchSummary{
		ID:               b.ID,
		FamilyID:         b.FamilyID,
		NotificationType: b.NotificationType,
		Status:           b.Status,
		RecipientCount:   b.RecipientCount,
		SuccessCount:     b.SuccessCount,
		FailureCount:     b.FailureCount,
		ExcludedCount:    b.ExcludedCount,
		Errors:           errs,
		CreatedAt:        b.CreatedAt,
		ProcessedAt:      b.ProcessedAt,
	}
}
