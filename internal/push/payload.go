package push

import (
	"time"

	"github.com/anonto42/familyhub/notifier/internal/models"
)

// TransportPriority is the delivery priority requested from the gateway
type TransportPriority string

const (
	TransportNormal TransportPriority = "normal"
	TransportHigh   TransportPriority = "high"
)

const DefaultChannel = "default"

var channelByType = map[models.NotificationType]string{
	models.TypeTaskAssigned:      "tasks",
	models.TypeTaskDueSoon:       "tasks",
	models.TypeTaskCompleted:     "tasks",
	models.TypeTaskComment:       "tasks",
	models.TypeChatMessage:       "messages",
	models.TypeChatMention:       "mentions",
	models.TypeEventReminder:     "events",
	models.TypeEventInvitation:   "events",
	models.TypeShoppingItemAdded: "shopping",
	models.TypeFamilyInvite:      "family",
	models.TypeWeeklySummary:     "summaries",
}

// ChannelFor maps a notification type to its client-side channel.
// Unmapped types, including system, use DefaultChannel.
func ChannelFor(t models.NotificationType) string {
	if ch, ok := channelByType[t]; ok {
		return ch
	}
	return DefaultChannel
}

// PriorityFor returns high transport priority only for urgent notifications
func PriorityFor(p models.Priority) TransportPriority {
	if p == models.PriorityUrgent {
		return TransportHigh
	}
	return TransportNormal
}

func entityData(target models.TargetEntity, extra map[string]string) map[string]string {
	data := make(map[string]string, len(extra)+3)
	for k, v := range extra {
		data[k] = v
	}
	data["entityType"] = target.EntityType
	data["entityId"] = target.EntityID
	action := target.ActionType
	if action == "" {
		action = "view"
	}
	data["actionType"] = action
	return data
}

// PayloadForRecord builds the push payload for a single notification record
func PayloadForRecord(n *models.NotificationRecord, now time.Time) Payload {
	data := entityData(n.TargetEntity, n.AdditionalData)
	data["notificationId"] = n.ID

	p := Payload{
		Title:    n.Title,
		Body:     n.Body,
		ImageURL: n.ImageURL,
		Data:     data,
		Channel:  ChannelFor(n.Type),
		Priority: PriorityFor(n.Priority),
		Tag:      n.TargetEntity.EntityID,
	}
	if n.ExpiresAt != nil && n.ExpiresAt.After(now) {
		p.TTL = n.ExpiresAt.Sub(now)
	}
	return p
}

// PayloadForBatch builds the shared push payload for a delivery batch
func PayloadForBatch(b *models.DeliveryBatch) Payload {
	tmpl := b.PayloadTemplate
	data := entityData(tmpl.TargetEntity, tmpl.Data)
	data["batchId"] = b.ID

	return Payload{
		Title:    tmpl.Title,
		Body:     tmpl.Body,
		ImageURL: tmpl.ImageURL,
		Data:     data,
		Channel:  ChannelFor(b.NotificationType),
		Priority: PriorityFor(tmpl.Priority),
		Tag:      tmpl.TargetEntity.EntityID,
	}
}
