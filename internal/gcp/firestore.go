package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// NewFirestoreClient creates a Firestore client for the project that hosts the
// per-user book and condition-assessment documents. An empty databaseID
// selects the default database.
func NewFirestoreClient(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" || databaseID == firestore.DefaultDatabaseID {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}
