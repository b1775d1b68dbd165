// utils/firebase.go
package utils

import (
	"carelink/config"
	"context"
	"log"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

var (
	FirebaseApp     *firebase.App
	FirebaseAuth    *auth.Client
	FCMClient       *messaging.Client
	FirestoreClient *firestore.Client
)

// FirebaseInit initializes the Firebase App with its Auth and Messaging clients.
// It is a no-op when no service account is configured.
func FirebaseInit() {
	if !config.FirebaseEnabled() {
		GetLogger().Warn("firebase: FIREBASE_CREDENTIALS_FILE not set, firebase integrations disabled")
		return
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(config.AppConfig.FirebaseCredentialsFile)

	var fbConfig *firebase.Config
	if config.AppConfig.FirebaseProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: config.AppConfig.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opt)
	if err != nil {
		log.Fatalf("firebase: error initializing app: %v", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("firebase: error getting Auth client: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		log.Fatalf("firebase: error getting Messaging client: %v", err)
	}

	FirebaseApp = app
	FirebaseAuth = authClient
	FCMClient = client
}

// GetFirestoreClient lazily opens the Firestore client of the Firebase app.
func GetFirestoreClient() *firestore.Client {
	if FirestoreClient != nil {
		return FirestoreClient
	}
	if FirebaseApp == nil {
		log.Fatal("firebase: PROFILE_STORE=firestore requires FIREBASE_CREDENTIALS_FILE")
	}
	client, err := FirebaseApp.Firestore(context.Background())
	if err != nil {
		log.Fatalf("firebase: error getting Firestore client: %v", err)
	}
	FirestoreClient = client
	return client
}
