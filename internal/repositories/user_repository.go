package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"gorm.io/gorm"
)

// ProfileRepository gives access to the push endpoint owned by a user profile.
//
// GetPushToken returns "" when the user has no token and ErrNotFound when the
// profile does not exist. RemovePushToken clears the token only if it still
// equals the given value and reports whether anything changed.
type ProfileRepository interface {
	GetPushToken(ctx context.Context, userID string) (string, error)
	RemovePushToken(ctx context.Context, userID, token string) (bool, error)
}

// PostgresProfileRepository implements ProfileRepository for PostgreSQL
type PostgresProfileRepository struct {
	db *gorm.DB
}

// NewPostgresProfileRepository creates a new PostgresProfileRepository
func NewPostgresProfileRepository(db *gorm.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// GetPushToken retrieves the current push token for a user
func (r *PostgresProfileRepository) GetPushToken(ctx context.Context, userID string) (string, error) {
	var user models.UserProfile
	err := r.db.WithContext(ctx).Select("id", "push_token").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if user.PushToken == nil {
		return "", nil
	}
	return *user.PushToken, nil
}

// RemovePushToken clears the token in a single conditional UPDATE so a token
// registered concurrently by the client is never overwritten.
func (r *PostgresProfileRepository) RemovePushToken(ctx context.Context, userID, token string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("id = ? AND push_token = ?", userID, token).
		Update("push_token", nil)
	if res.Error != nil {
		return false, fmt.Errorf("remove push token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
