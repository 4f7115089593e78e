package models

import "time"

// NotificationType is the category of a notification event
type NotificationType string

const (
	TypeTaskAssigned      NotificationType = "task_assigned"
	TypeTaskDueSoon       NotificationType = "task_due_soon"
	TypeTaskCompleted     NotificationType = "task_completed"
	TypeTaskComment       NotificationType = "task_comment"
	TypeChatMessage       NotificationType = "chat_message"
	TypeChatMention       NotificationType = "chat_mention"
	TypeEventReminder     NotificationType = "event_reminder"
	TypeEventInvitation   NotificationType = "event_invitation"
	TypeShoppingItemAdded NotificationType = "shopping_item_added"
	TypeFamilyInvite      NotificationType = "family_invite"
	TypeWeeklySummary     NotificationType = "weekly_summary"
	TypeSystem            NotificationType = "system"
)

// Priority drives transport priority and channel routing
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DeliveryStatus of a single notification record. It only moves from
// pending to sent or failed.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Failure codes written by the dispatcher itself (gateway codes live in the push package)
const (
	ErrorCodeNoEndpoint     = "no-endpoint"
	ErrorCodeExpired        = "expired"
	ErrorCodeInvalidRecord  = "invalid-record"
	ErrorCodeEndpointLookup = "endpoint-lookup-failed"
)

// TargetEntity is what tapping the notification should open
type TargetEntity struct {
	EntityType string `json:"entityType" bson:"entityType"` // task, chat, event, shopping_list, document, family
	EntityID   string `json:"entityId" bson:"entityId"`
	ActionType string `json:"actionType,omitempty" bson:"actionType,omitempty"` // view, edit, respond, accept, decline
}

// NotificationRecord is one (user, event) pair awaiting or having completed push delivery (MongoDB)
type NotificationRecord struct {
	ID              string            `json:"id" bson:"_id" validate:"required"`
	RecipientUserID string            `json:"recipientUserId" bson:"recipientUserId" validate:"required"`
	FamilyID        string            `json:"familyId" bson:"familyId" validate:"required"`
	Type            NotificationType  `json:"type" bson:"type" validate:"required"`
	Priority        Priority          `json:"priority" bson:"priority"`
	Title           string            `json:"title" bson:"title" validate:"required"`
	Body            string            `json:"body" bson:"body"`
	TargetEntity    TargetEntity      `json:"targetEntity" bson:"targetEntity"`
	AdditionalData  map[string]string `json:"additionalData,omitempty" bson:"additionalData,omitempty"`
	ImageURL        string            `json:"imageUrl,omitempty" bson:"imageUrl,omitempty" validate:"omitempty,url"`
	IsRead          bool              `json:"isRead" bson:"isRead"`
	ReadAt          *time.Time        `json:"readAt,omitempty" bson:"readAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt" bson:"createdAt"`
	ExpiresAt       *time.Time        `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`

	DeliveryStatus      DeliveryStatus `json:"deliveryStatus" bson:"deliveryStatus"`
	DeliveryAttemptedAt *time.Time     `json:"deliveryAttemptedAt,omitempty" bson:"deliveryAttemptedAt,omitempty"`
	DeliveryMessageID   string         `json:"deliveryMessageId,omitempty" bson:"deliveryMessageId,omitempty"`
	DeliveryErrorCode   string         `json:"deliveryErrorCode,omitempty" bson:"deliveryErrorCode,omitempty"`
}

// IsTerminal reports whether delivery has already been attempted
func (n *NotificationRecord) IsTerminal() bool {
	return n.DeliveryStatus == DeliverySent || n.DeliveryStatus == DeliveryFailed
}

// DeliveryOutcome is the result written back to a record after an attempt
type DeliveryOutcome struct {
	Status      DeliveryStatus
	MessageID   string
	ErrorCode   string
	AttemptedAt time.Time
}

// DeliveryView is the read-only delivery state exposed to downstream consumers
type DeliveryView struct {
	ID                  string         `json:"id"`
	RecipientUserID     string         `json:"recipientUserId"`
	Type                string         `json:"type"`
	DeliveryStatus      DeliveryStatus `json:"deliveryStatus"`
	DeliveryAttemptedAt *time.Time     `json:"deliveryAttemptedAt,omitempty"`
	DeliveryMessageID   string         `json:"deliveryMessageId,omitempty"`
	DeliveryErrorCode   string         `json:"deliveryErrorCode,omitempty"`
}

func (n *NotificationRecord) ToDeliveryView() DeliveryView {
	return DeliveryView{
		ID:                  n.ID,
		RecipientUserID:     n.RecipientUserID,
		Type:                string(n.Type),
		DeliveryStatus:      n.DeliveryStatus,
		DeliveryAttemptedAt: n.DeliveryAttemptedAt,
		DeliveryMessageID:   n.DeliveryMessageID,
		DeliveryErrorCode:   n.DeliveryErrorCode,
	}
}
