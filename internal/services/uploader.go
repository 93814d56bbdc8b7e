package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/gcp"
	"github.com/Lllllllleong/bookintake/internal/models"
)

// Uploader moves one file to blob storage and returns its object id.
type Uploader interface {
	Upload(ctx context.Context, task *UploadTask) (string, error)
}

type uploadURLIssuer interface {
	RequestUploadURL(ctx context.Context, filename, contentType string) (models.UploadURLResponse, error)
}

type byteTransfer interface {
	Transfer(ctx context.Context, signedURL, contentType string, body io.Reader, size int64) error
}

// ObjectUploader acquires a write URL per file and transfers the bytes. It
// keeps no per-call state, so one instance serves a whole batch concurrently.
type ObjectUploader struct {
	issuer   uploadURLIssuer
	transfer byteTransfer
	storage  *storage.Client
	logger   *slog.Logger
}

// UploaderOption customizes the ObjectUploader.
type UploaderOption func(*ObjectUploader)

// WithStorageClient enables direct writes when the backend hands out a
// gs:// write target instead of a signed URL.
func WithStorageClient(client *storage.Client) UploaderOption {
	return func(u *ObjectUploader) {
		u.storage = client
	}
}

// WithUploaderLogger sets the logger.
func WithUploaderLogger(logger *slog.Logger) UploaderOption {
	return func(u *ObjectUploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewObjectUploader creates an uploader. The backend client satisfies both
// collaborators.
func NewObjectUploader(issuer uploadURLIssuer, transfer byteTransfer, opts ...UploaderOption) *ObjectUploader {
	u := &ObjectUploader{issuer: issuer, transfer: transfer, logger: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload performs the two sequential round trips for one file.
func (u *ObjectUploader) Upload(ctx context.Context, task *UploadTask) (string, error) {
	if err := task.validate(); err != nil {
		return "", err
	}
	logCtx := u.logger.With("filename", task.Filename)
	task.setStatus(TaskUploading)

	target, err := u.issuer.RequestUploadURL(ctx, task.Filename, task.contentType())
	if err != nil {
		task.setStatus(TaskFailed)
		logCtx.Error("Failed to acquire upload URL", "error", err)
		return "", err
	}

	if err := u.write(ctx, task, target.URL); err != nil {
		task.setStatus(TaskFailed)
		logCtx.Error("Failed to transfer file", "error", err)
		return "", err
	}

	task.setStatus(TaskDone)
	logCtx.Info("File uploaded.", "gcsUri", target.GCSURI, "size", task.Size)
	return target.GCSURI, nil
}

func (u *ObjectUploader) write(ctx context.Context, task *UploadTask, target string) error {
	body, err := task.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", task.Filename, err)
	}
	defer body.Close()

	if !strings.HasPrefix(target, "gs://") {
		return u.transfer.Transfer(ctx, target, task.contentType(), body, task.Size)
	}
	if u.storage == nil {
		return errors.WrapTransportError("transfer", fmt.Errorf("write target %s needs a storage client", target))
	}
	bucket, object, err := gcp.ParseGCSURI(target)
	if err != nil {
		return errors.WrapProtocolError("request upload url", err)
	}
	if err := gcp.WriteObjectAtomically(ctx, u.storage.Bucket(bucket), object, task.contentType(), body); err != nil {
		return errors.WrapTransportError("transfer", err)
	}
	return nil
}
