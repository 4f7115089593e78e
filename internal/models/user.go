package models

import "time"

// UserProfile is the slice of the user document this service reads (PostgreSQL).
// PushToken is owned by the client; the service only ever clears it.
type UserProfile struct {
	ID          string    `json:"id" gorm:"primaryKey;size:128"`
	DisplayName string    `json:"displayName" gorm:"size:100"`
	Email       string    `json:"email" gorm:"index"`
	PushToken   *string   `json:"-" gorm:"size:512"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (UserProfile) TableName() string {
	return "users"
}
