package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/errors"
)

// DefaultMaxConcurrentUploads bounds the per-batch fan-out when no limit is
// configured.
const DefaultMaxConcurrentUploads = 8

// Orchestrator drives one ingestion submission: parallel uploads, a join
// barrier, the pipeline trigger and finally the status subscription.
type Orchestrator struct {
	uploader Uploader
	trigger  Trigger
	machine  *PipelineMachine
	session  *backend.Session
	limit    int
	logger   *slog.Logger
}

// OrchestratorOption customizes the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxConcurrentUploads sets how many files transfer at once.
func WithMaxConcurrentUploads(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator wires the collaborators. The machine follows session
// changes: a new owner drops the tracked job.
func NewOrchestrator(uploader Uploader, trigger Trigger, machine *PipelineMachine, session *backend.Session, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		uploader: uploader,
		trigger:  trigger,
		machine:  machine,
		session:  session,
		limit:    DefaultMaxConcurrentUploads,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if session != nil {
		session.OnChange(func(p backend.Principal) {
			owner := ""
			if p != nil {
				owner = p.OwnerID()
			}
			machine.ChangeOwner(owner)
		})
	}
	return o
}

// Machine returns the pipeline state machine presenters read from.
func (o *Orchestrator) Machine() *PipelineMachine { return o.machine }

// State returns the current pipeline state.
func (o *Orchestrator) State() PipelineState { return o.machine.State() }

// Submit uploads tasks, starts the pipeline and subscribes to its status. It
// returns the tracking id once the subscription is open; the outcome arrives
// through the machine.
func (o *Orchestrator) Submit(ctx context.Context, tasks []*UploadTask) (string, error) {
	if len(tasks) == 0 {
		return "", errors.NewValidationError("files", "no files selected")
	}
	for _, task := range tasks {
		if err := task.validate(); err != nil {
			return "", err
		}
	}
	principal := o.session.Principal()
	if principal == nil || strings.TrimSpace(principal.OwnerID()) == "" {
		return "", errors.NewValidationError("principal", "no authenticated principal")
	}
	if err := o.machine.BeginUpload(principal.OwnerID()); err != nil {
		return "", err
	}

	requestID := backend.NewRequestID()
	ctx = backend.WithRequestID(ctx, requestID)
	logCtx := o.logger.With("requestId", requestID, "ownerId", principal.OwnerID(), "files", len(tasks))
	logCtx.Info("Starting upload batch.", "limit", o.limit)

	objectIDs, err := o.uploadAll(ctx, tasks)
	if err != nil {
		logCtx.Error("Upload batch failed", "error", err)
		o.machine.Fail(err)
		return "", err
	}
	if o.machine.State().Phase != PhaseUploading {
		logCtx.Info("Upload batch dropped before the pipeline started.")
		return "", ErrReset
	}
	o.machine.ReportProgress(triggeredProgress)

	bookID, err := o.trigger.Start(ctx, objectIDs)
	if err != nil {
		o.machine.Fail(err)
		return "", err
	}
	logCtx = logCtx.With("bookId", bookID)

	if err := o.machine.Track(ctx, TrackingHandle{OwnerID: principal.OwnerID(), TrackingID: bookID}); err != nil {
		logCtx.Error("Failed to track job", "error", err)
		return bookID, err
	}
	logCtx.Info("Upload batch handed to pipeline.")
	return bookID, nil
}

// uploadAll transfers every task and waits for all of them. Siblings keep
// running after a failure; the failures are reported together.
func (o *Orchestrator) uploadAll(ctx context.Context, tasks []*UploadTask) ([]string, error) {
	var (
		eg        errgroup.Group
		mu        sync.Mutex
		completed int
		failures  []FileError
	)
	eg.SetLimit(o.limit)
	objectIDs := make([]string, len(tasks))
	total := len(tasks)

	for i, task := range tasks {
		eg.Go(func() error {
			objectID, err := o.uploader.Upload(ctx, task)
			mu.Lock()
			if err != nil {
				failures = append(failures, FileError{Filename: task.Filename, Err: err})
				mu.Unlock()
				return nil
			}
			objectIDs[i] = objectID
			completed++
			progress := uploadProgress(completed, total)
			mu.Unlock()

			o.machine.ReportProgress(progress)
			return nil
		})
	}
	_ = eg.Wait()

	if len(failures) > 0 {
		return nil, &UploadError{Total: total, Failures: failures}
	}
	return objectIDs, nil
}

// uploadProgress is round(completed/total*50).
func uploadProgress(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * uploadProgressWeight))
}

// Reset returns to Idle and drops any tracked job.
func (o *Orchestrator) Reset() { o.machine.Reset() }

// Close tears down the subscription; the orchestrator is not reusable.
func (o *Orchestrator) Close() { o.machine.Close() }
