package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
)

// FirestoreDatabase returns the database named by FIRESTORE_DATABASE, or
// the project's default database when it is unset or blank.
func FirestoreDatabase() string {
	if db := strings.TrimSpace(GetEnv("FIRESTORE_DATABASE", "")); db != "" {
		return db
	}
	return firestore.DefaultDatabaseID
}

// NewFirestoreClient connects to the database returned by FirestoreDatabase.
// FIRESTORE_EMULATOR_HOST is honoured by the client library itself.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	database := FirestoreDatabase()
	if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
		slog.Info("Using the Firestore emulator.", "host", host, "database", database)
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("failed to open firestore database %q: %w", database, err)
	}
	return client, nil
}
