package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// App holds the initialized Firebase app and the clients the notifier uses
type App struct {
	FirebaseApp *firebase.App
	Messaging   *messaging.Client
	Firestore   *firestore.Client
}

// InitFirebase initializes the Firebase application and its messaging client.
// The Firestore client is only opened when withFirestore is set.
func InitFirebase(ctx context.Context, credentialsPath string, withFirestore bool, logger *zap.Logger) (*App, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("firebase credentials path not provided")
	}

	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", credentialsPath)
	}

	opt := option.WithCredentialsFile(credentialsPath)

	firebaseApp, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	messagingClient, err := firebaseApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase messaging client: %w", err)
	}

	app := &App{FirebaseApp: firebaseApp, Messaging: messagingClient}
	if withFirestore {
		app.Firestore, err = firebaseApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting firestore client: %w", err)
		}
	}

	logger.Info("Firebase app initialized", zap.Bool("firestore", withFirestore))
	return app, nil
}

// Close releases the Firestore client if one was opened
func (a *App) Close() error {
	if a.Firestore != nil {
		return a.Firestore.Close()
	}
	return nil
}
