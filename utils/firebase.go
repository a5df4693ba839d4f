// utils/firebase.go
package utils

import (
	"context"
	"fmt"

	"slotkeeper/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// NewFCMClient initializes the Firebase App and Messaging client from
// FIREBASE_CREDENTIALS_FILE. It returns nil when push delivery is not configured.
func NewFCMClient(ctx context.Context) (*messaging.Client, error) {
	path := config.AppConfig.FirebaseCredentialsFile
	if path == "" {
		return nil, nil
	}
	opt := option.WithCredentialsFile(path)

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting Messaging client: %w", err)
	}
	return client, nil
}
