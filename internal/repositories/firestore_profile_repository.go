package repositories

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection = "users"
	pushTokenPath   = "notificationPreferences.fcmToken"
)

// FirestoreProfileRepository implements ProfileRepository over the users
// collection the mobile client writes to.
type FirestoreProfileRepository struct {
	client *firestore.Client
}

// NewFirestoreProfileRepository creates a new FirestoreProfileRepository
func NewFirestoreProfileRepository(client *firestore.Client) *FirestoreProfileRepository {
	return &FirestoreProfileRepository{client: client}
}

func tokenFrom(snap *firestore.DocumentSnapshot) string {
	v, err := snap.DataAt(pushTokenPath)
	if err != nil {
		return ""
	}
	token, _ := v.(string)
	return token
}

// GetPushToken retrieves the current push token for a user
func (r *FirestoreProfileRepository) GetPushToken(ctx context.Context, userID string) (string, error) {
	snap, err := r.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get user profile: %w", err)
	}
	return tokenFrom(snap), nil
}

// RemovePushToken deletes the token field inside a transaction, only if it
// still holds the token that failed.
func (r *FirestoreProfileRepository) RemovePushToken(ctx context.Context, userID, token string) (bool, error) {
	ref := r.client.Collection(usersCollection).Doc(userID)
	removed := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		removed = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		if tokenFrom(snap) != token {
			return nil
		}
		removed = true
		return tx.Update(ref, []firestore.Update{{Path: pushTokenPath, Value: firestore.Delete}})
	})
	if err != nil {
		return false, fmt.Errorf("remove push token: %w", err)
	}
	return removed, nil
}
