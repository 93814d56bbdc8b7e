package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/bookintake/internal/errors"
)

// Trigger starts the backend pipeline for uploaded objects.
type Trigger interface {
	Start(ctx context.Context, objectIDs []string) (string, error)
}

type processingStarter interface {
	StartProcessing(ctx context.Context, gcsURIs []string) (string, error)
}

// PipelineTrigger makes at most one start-processing call per invocation.
// Retried invocations may create duplicate jobs; retrying is the caller's
// decision.
type PipelineTrigger struct {
	starter processingStarter
	logger  *slog.Logger
}

// NewPipelineTrigger creates a trigger over the backend client.
func NewPipelineTrigger(starter processingStarter, logger *slog.Logger) *PipelineTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineTrigger{starter: starter, logger: logger}
}

// Start returns the tracking id of the new job.
func (t *PipelineTrigger) Start(ctx context.Context, objectIDs []string) (string, error) {
	if len(objectIDs) == 0 {
		return "", errors.NewValidationError("gcs_uris", "no uploaded objects to process")
	}
	bookID, err := t.starter.StartProcessing(ctx, objectIDs)
	if err != nil {
		t.logger.Error("Failed to start processing", "objects", len(objectIDs), "error", err)
		return "", fmt.Errorf("failed to start pipeline: %w", err)
	}
	t.logger.Info("Pipeline started.", "bookId", bookID, "objects", len(objectIDs))
	return bookID, nil
}
