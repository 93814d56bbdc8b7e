package services

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Lllllllleong/bookintake/internal/errors"
)

// TaskStatus tracks one file through an upload batch.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskUploading TaskStatus = "uploading"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
)

const defaultContentType = "application/octet-stream"

// UploadTask is one selected file. TargetType is empty for the free-form
// ingestion flow and names the slot in the assessment flow.
type UploadTask struct {
	Filename    string
	ContentType string
	// Size is the byte length, or -1 when unknown.
	Size       int64
	TargetType string
	Open       func() (io.ReadCloser, error)

	mu     sync.Mutex
	status TaskStatus
}

// NewBytesTask creates a task over an in-memory payload.
func NewBytesTask(filename, contentType string, data []byte) *UploadTask {
	return &UploadTask{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewFileTask creates a task that reads path when the upload starts.
func NewFileTask(path, filename, contentType string) (*UploadTask, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, errors.NewValidationError("file", path+" is a directory")
	}
	return &UploadTask{
		Filename:    filename,
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Status returns the task's current status.
func (t *UploadTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == "" {
		return TaskPending
	}
	return t.status
}

func (t *UploadTask) setStatus(status TaskStatus) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
}

func (t *UploadTask) contentType() string {
	if ct := strings.TrimSpace(t.ContentType); ct != "" {
		return ct
	}
	return defaultContentType
}

func (t *UploadTask) validate() error {
	if t == nil {
		return errors.NewValidationError("files", "nil upload task")
	}
	if strings.TrimSpace(t.Filename) == "" {
		return errors.NewValidationError("filename", "filename is required")
	}
	if t.Open == nil {
		return errors.NewValidationError("file", t.Filename+" has no content")
	}
	return nil
}

// TrackingHandle is the correlation key of one pipeline job.
type TrackingHandle struct {
	OwnerID    string
	TrackingID string
}
