package services

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/models"
	"github.com/Lllllllleong/bookintake/internal/testsupport"
)

func TestObjectUploaderTransfersBytes(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	client := fb.Client(t, testOwner)
	uploader := NewObjectUploader(client, client, WithUploaderLogger(quietLogger()))

	task := NewBytesTask("page1.jpg", "image/jpeg", []byte("jpeg:page1"))
	objectID, err := uploader.Upload(context.Background(), task)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if objectID != "gs://fake-bucket/uploads/page1.jpg" {
		t.Errorf("object id = %q", objectID)
	}
	if body, ok := fb.Transferred("page1.jpg"); !ok || string(body) != "jpeg:page1" {
		t.Errorf("transferred = %q, %v", body, ok)
	}
	if task.Status() != TaskDone {
		t.Errorf("status = %s", task.Status())
	}
}

func TestObjectUploaderFileTask(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	client := fb.Client(t, testOwner)
	uploader := NewObjectUploader(client, client, WithUploaderLogger(quietLogger()))

	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	task, err := NewFileTask(path, "scan.png", "")
	if err != nil {
		t.Fatalf("NewFileTask returned error: %v", err)
	}
	if task.Size != int64(len("png-bytes")) {
		t.Errorf("size = %d", task.Size)
	}
	if _, err := uploader.Upload(context.Background(), task); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if body, _ := fb.Transferred("scan.png"); string(body) != "png-bytes" {
		t.Errorf("transferred = %q", body)
	}
}

func TestNewFileTaskRejectsDirectory(t *testing.T) {
	if _, err := NewFileTask(t.TempDir(), "dir", ""); !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewFileTask(filepath.Join(t.TempDir(), "missing.jpg"), "missing.jpg", ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestObjectUploaderTransferFailure(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.FailTransferOf("bad.jpg", http.StatusForbidden)
	client := fb.Client(t, testOwner)
	uploader := NewObjectUploader(client, client, WithUploaderLogger(quietLogger()))

	task := NewBytesTask("bad.jpg", "image/jpeg", []byte("x"))
	_, err := uploader.Upload(context.Background(), task)
	if !errors.Is(err, errors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if task.Status() != TaskFailed {
		t.Errorf("status = %s", task.Status())
	}
}

func TestObjectUploaderRejectsInvalidTask(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	client := fb.Client(t, testOwner)
	uploader := NewObjectUploader(client, client, WithUploaderLogger(quietLogger()))

	for _, task := range []*UploadTask{nil, {Filename: " "}, {Filename: "x.jpg"}} {
		if _, err := uploader.Upload(context.Background(), task); !errors.Is(err, errors.ErrValidation) {
			t.Fatalf("Upload(%+v) = %v", task, err)
		}
	}
	if upload, _, _, _ := fb.Requests(); upload != 0 {
		t.Fatalf("upload requests = %d", upload)
	}
}

type gsIssuer struct{}

func (gsIssuer) RequestUploadURL(ctx context.Context, filename, contentType string) (models.UploadURLResponse, error) {
	return models.UploadURLResponse{URL: "gs://bucket/" + filename, GCSURI: "gs://bucket/" + filename}, nil
}

type nopTransfer struct{}

func (nopTransfer) Transfer(ctx context.Context, signedURL, contentType string, body io.Reader, size int64) error {
	return nil
}

func TestObjectUploaderDirectWriteNeedsStorageClient(t *testing.T) {
	uploader := NewObjectUploader(gsIssuer{}, nopTransfer{}, WithUploaderLogger(quietLogger()))
	_, err := uploader.Upload(context.Background(), NewBytesTask("a.jpg", "image/jpeg", []byte("x")))
	if !errors.Is(err, errors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestTaskContentTypeDefault(t *testing.T) {
	task := NewBytesTask("blob", "", nil)
	if task.contentType() != "application/octet-stream" {
		t.Errorf("content type = %q", task.contentType())
	}
	if task.Status() != TaskPending {
		t.Errorf("status = %s", task.Status())
	}
}
