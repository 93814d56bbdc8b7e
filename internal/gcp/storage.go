package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ClientOptions returns the options shared by the Firestore and Storage
// clients. Without a credentials file the libraries fall back to application
// default credentials, and the FIRESTORE_EMULATOR_HOST / STORAGE_EMULATOR_HOST
// variables keep working unchanged.
func ClientOptions(credentialsFile string) []option.ClientOption {
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// NewStorageClient creates a Cloud Storage client.
func NewStorageClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

// WriteObjectAtomically streams content to a GCS object only if it doesn't
// already exist. An existing object is not a failure: a retried upload of the
// same file lands on the same name.
func WriteObjectAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content io.Reader) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
