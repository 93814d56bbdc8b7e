package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/feed"
	"github.com/Lllllllleong/bookintake/internal/models"
	"github.com/Lllllllleong/bookintake/internal/notify"
)

// PipelinePhase is the normalized pipeline state.
type PipelinePhase string

const (
	PhaseIdle       PipelinePhase = "idle"
	PhaseUploading  PipelinePhase = "uploading"
	PhaseProcessing PipelinePhase = "processing"
	PhaseIngested   PipelinePhase = "ingested"
	PhaseFailed     PipelinePhase = "failed"
)

// Progress checkpoints. Uploads fill the first half of the bar; 60 marks
// "uploads done, pipeline start requested" and stays until the job ends.
const (
	uploadProgressWeight = 50
	processingProgress   = 50
	triggeredProgress    = 60
	completeProgress     = 100
)

// Failure reasons produced by the client itself rather than the backend.
const (
	ReasonSubscriptionError = "subscription-error"
	ReasonProcessingTimeout = "processing-timeout"
)

// ErrReset is returned by Wait when the machine went back to Idle before
// reaching a terminal state.
var ErrReset = errors.New("pipeline reset before completion")

// ErrClosed is returned by operations on a closed machine.
var ErrClosed = errors.New("state machine closed")

// PipelineState is the client-owned view of one submission.
type PipelineState struct {
	Phase      PipelinePhase
	Progress   int
	TrackingID string
	Result     *models.BookDocument
	Reason     string
	Err        error
}

// Terminal reports whether the state is Ingested or Failed.
func (s PipelineState) Terminal() bool {
	return s.Phase == PhaseIngested || s.Phase == PhaseFailed
}

// classify maps one book document to a pipeline state. The second result is
// false when the document causes no transition.
func classify(doc models.BookDocument) (PipelineState, bool) {
	switch models.ParseBookStatus(doc.Status) {
	case models.BookStatusPendingAnalysis, models.BookStatusIngesting:
		return PipelineState{Phase: PhaseProcessing, Progress: processingProgress}, true
	case models.BookStatusIngested:
		if doc.Title == "" || doc.Authors == nil {
			return PipelineState{}, false
		}
		result := doc
		return PipelineState{Phase: PhaseIngested, Progress: completeProgress, Result: &result}, true
	case models.BookStatusAnalysisFailed, models.BookStatusFailed:
		return PipelineState{Phase: PhaseFailed, Reason: doc.FailureReason()}, true
	default:
		return PipelineState{}, false
	}
}

// PipelineMachine merges pushed book snapshots with local upload state. It
// owns at most one live subscription and tears it down on every exit path.
type PipelineMachine struct {
	feed              feed.Feed
	sink              notify.Sink
	logger            *slog.Logger
	processingTimeout time.Duration

	mu     sync.Mutex
	state  PipelineState
	handle *TrackingHandle
	// uploadOwner is the principal of the batch in Uploading.
	uploadOwner string
	sub         feed.Subscription
	timer       *time.Timer
	closed      bool
	obs         *observable[PipelineState]
}

// PipelineOption customizes the PipelineMachine.
type PipelineOption func(*PipelineMachine)

// WithPipelineSink sets where terminal notifications go.
func WithPipelineSink(sink notify.Sink) PipelineOption {
	return func(m *PipelineMachine) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(m *PipelineMachine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithProcessingTimeout fails a job that stays in Processing longer than d.
// Zero disables the guard.
func WithProcessingTimeout(d time.Duration) PipelineOption {
	return func(m *PipelineMachine) {
		if d > 0 {
			m.processingTimeout = d
		}
	}
}

// WithPipelineObserver registers fn for every state change.
func WithPipelineObserver(fn func(PipelineState)) PipelineOption {
	return func(m *PipelineMachine) {
		m.obs.addLocked(fn)
	}
}

// NewPipelineMachine creates an Idle machine reading from f.
func NewPipelineMachine(f feed.Feed, opts ...PipelineOption) *PipelineMachine {
	m := &PipelineMachine{
		feed:   f,
		sink:   notify.Discard,
		logger: slog.Default(),
		state:  PipelineState{Phase: PhaseIdle},
		obs:    newObservable[PipelineState](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *PipelineMachine) State() PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers fn for every later state change.
func (m *PipelineMachine) OnChange(fn func(PipelineState)) {
	m.mu.Lock()
	m.obs.addLocked(fn)
	m.mu.Unlock()
}

// BeginUpload starts a new submission for ownerID. Any previous handle is
// superseded and its subscription torn down. A batch still uploading is not
// interrupted.
func (m *PipelineMachine) BeginUpload(ownerID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.Phase == PhaseUploading {
		m.mu.Unlock()
		return errors.NewValidationError("files", "an upload batch is already in progress")
	}
	if m.handle != nil {
		m.logger.Info("Superseding tracked job.", "bookId", m.handle.TrackingID)
	}
	m.teardownLocked()
	m.uploadOwner = ownerID
	m.obs.publishAndUnlock(m.setLocked(PipelineState{Phase: PhaseUploading}), &m.mu)
	return nil
}

// ReportProgress raises the upload progress. Lower values are ignored.
func (m *PipelineMachine) ReportProgress(progress int) {
	m.mu.Lock()
	if m.state.Phase != PhaseUploading || progress <= m.state.Progress {
		m.mu.Unlock()
		return
	}
	next := m.state
	next.Progress = progress
	m.obs.publishAndUnlock(m.setLocked(next), &m.mu)
}

// Fail ends the current upload with err. It does nothing unless a batch is
// uploading, so a reset during the upload wins.
func (m *PipelineMachine) Fail(err error) {
	m.mu.Lock()
	if m.state.Phase != PhaseUploading {
		m.mu.Unlock()
		return
	}
	m.logger.Error("Submission failed", "remote", errors.IsRemote(err), "error", err)
	m.terminateLocked(PipelineState{Phase: PhaseFailed, Progress: m.state.Progress, Reason: err.Error(), Err: err})
}

// Track opens the subscription for a freshly triggered job and moves to
// Processing.
func (m *PipelineMachine) Track(ctx context.Context, handle TrackingHandle) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.Phase != PhaseUploading {
		m.mu.Unlock()
		if m.state.Phase == PhaseIdle {
			return fmt.Errorf("track %s: %w", handle.TrackingID, ErrReset)
		}
		return fmt.Errorf("track %s: no submission in progress (state %s)", handle.TrackingID, m.state.Phase)
	}
	if handle.OwnerID != m.uploadOwner {
		m.mu.Unlock()
		return errors.NewValidationError("principal", "job belongs to a different principal than the upload")
	}
	return m.subscribeLocked(ctx, handle)
}

// Attach follows a job that was submitted earlier, superseding any tracked
// job. It is rejected while a batch is uploading.
func (m *PipelineMachine) Attach(ctx context.Context, handle TrackingHandle) error {
	if strings.TrimSpace(handle.OwnerID) == "" {
		return errors.NewValidationError("principal", "no authenticated principal")
	}
	if strings.TrimSpace(handle.TrackingID) == "" {
		return errors.NewValidationError("bookId", "a book id is required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.Phase == PhaseUploading {
		m.mu.Unlock()
		return errors.NewValidationError("bookId", "an upload batch is in progress")
	}
	m.state = PipelineState{Phase: PhaseIdle}
	return m.subscribeLocked(ctx, handle)
}

// subscribeLocked replaces the subscription with one for handle and moves
// to Processing. It releases m.mu.
func (m *PipelineMachine) subscribeLocked(ctx context.Context, handle TrackingHandle) error {
	logCtx := m.logger.With("bookId", handle.TrackingID, "ownerId", handle.OwnerID)

	m.teardownLocked()
	sub, err := m.feed.Subscribe(context.WithoutCancel(ctx), feed.BookKey(handle.OwnerID, handle.TrackingID))
	if err != nil {
		serr := &errors.SubscriptionError{TrackingID: handle.TrackingID, Err: err}
		logCtx.Error("Failed to open status subscription", "error", err)
		m.terminateLocked(PipelineState{
			Phase:      PhaseFailed,
			Progress:   m.state.Progress,
			TrackingID: handle.TrackingID,
			Reason:     ReasonSubscriptionError,
			Err:        serr,
		})
		return serr
	}

	m.handle = &handle
	m.sub = sub
	if m.processingTimeout > 0 {
		m.timer = time.AfterFunc(m.processingTimeout, func() { m.expire(handle) })
	}
	go m.pump(sub)
	logCtx.Info("Subscribed to book status.")

	next := PipelineState{
		Phase:      PhaseProcessing,
		Progress:   max(m.state.Progress, triggeredProgress),
		TrackingID: handle.TrackingID,
	}
	m.obs.publishAndUnlock(m.setLocked(next), &m.mu)
	return nil
}

// HandleEvent applies one feed delivery. Events for any key other than the
// live handle's are dropped.
func (m *PipelineMachine) HandleEvent(event feed.Event) {
	m.mu.Lock()
	if m.handle == nil || event.Key != feed.BookKey(m.handle.OwnerID, m.handle.TrackingID) {
		m.mu.Unlock()
		m.logger.Debug("Dropped stale snapshot.", "bookId", event.Key.TrackingID)
		return
	}
	handle := *m.handle
	logCtx := m.logger.With("bookId", handle.TrackingID)

	if event.Err != nil {
		logCtx.Error("Status subscription failed", "error", event.Err)
		m.terminateLocked(PipelineState{
			Phase:      PhaseFailed,
			Progress:   m.state.Progress,
			TrackingID: handle.TrackingID,
			Reason:     ReasonSubscriptionError,
			Err:        &errors.SubscriptionError{TrackingID: handle.TrackingID, Err: event.Err},
		})
		return
	}
	if !event.Exists {
		m.mu.Unlock()
		return
	}

	doc, err := models.DecodeBook(event.Data)
	if err != nil {
		m.mu.Unlock()
		logCtx.Warn("Ignoring undecodable snapshot", "error", err)
		return
	}
	next, ok := classify(doc)
	if !ok {
		m.mu.Unlock()
		logCtx.Debug("Snapshot caused no transition.", "status", doc.Status)
		return
	}
	next.TrackingID = handle.TrackingID

	switch next.Phase {
	case PhaseProcessing:
		next.Progress = max(m.state.Progress, next.Progress)
		if next.Phase == m.state.Phase && next.Progress == m.state.Progress {
			m.mu.Unlock()
			return
		}
		m.obs.publishAndUnlock(m.setLocked(next), &m.mu)
	case PhaseFailed:
		next.Progress = m.state.Progress
		next.Err = &errors.PipelineError{TrackingID: handle.TrackingID, Message: next.Reason}
		m.terminateLocked(next)
	default:
		m.terminateLocked(next)
	}
}

// Reset returns to Idle from any state and tears down the subscription.
func (m *PipelineMachine) Reset() {
	m.mu.Lock()
	m.teardownLocked()
	if m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.obs.publishAndUnlock(m.setLocked(PipelineState{Phase: PhaseIdle}), &m.mu)
}

// ChangeOwner drops a tracked job or an uploading batch that belongs to
// anyone but ownerID. A dropped batch can no longer be tracked.
func (m *PipelineMachine) ChangeOwner(ownerID string) {
	m.mu.Lock()
	switch {
	case m.state.Phase == PhaseUploading && m.uploadOwner != ownerID:
		m.logger.Info("Principal changed, dropping upload batch.")
	case m.handle != nil && m.handle.OwnerID != ownerID:
		m.logger.Info("Principal changed, dropping tracked job.", "bookId", m.handle.TrackingID)
	default:
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.obs.publishAndUnlock(m.setLocked(PipelineState{Phase: PhaseIdle}), &m.mu)
}

// Close tears down the subscription and releases waiters. It is idempotent.
func (m *PipelineMachine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.teardownLocked()
	m.obs.wakeLocked()
}

// Wait blocks until the machine reaches a terminal state, goes back to Idle,
// is closed, or ctx ends.
func (m *PipelineMachine) Wait(ctx context.Context) (PipelineState, error) {
	for {
		m.mu.Lock()
		state, closed, changed := m.state, m.closed, m.obs.waitChanLocked()
		m.mu.Unlock()

		switch {
		case state.Terminal():
			return state, nil
		case closed:
			return state, ErrClosed
		case state.Phase == PhaseIdle:
			return state, ErrReset
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Live reports whether a subscription is currently open.
func (m *PipelineMachine) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

func (m *PipelineMachine) pump(sub feed.Subscription) {
	for event := range sub.Events() {
		m.HandleEvent(event)
	}

	// A channel we did not close ended silently; the job would otherwise
	// sit in Processing with nothing left to move it.
	m.mu.Lock()
	if m.sub != sub || m.handle == nil {
		m.mu.Unlock()
		return
	}
	handle := *m.handle
	m.logger.Error("Status subscription closed", "bookId", handle.TrackingID, "error", feed.ErrChannelClosed)
	m.terminateLocked(PipelineState{
		Phase:      PhaseFailed,
		Progress:   m.state.Progress,
		TrackingID: handle.TrackingID,
		Reason:     ReasonSubscriptionError,
		Err:        &errors.SubscriptionError{TrackingID: handle.TrackingID, Err: feed.ErrChannelClosed},
	})
}

func (m *PipelineMachine) expire(handle TrackingHandle) {
	m.mu.Lock()
	if m.handle == nil || *m.handle != handle || m.state.Phase != PhaseProcessing {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("Job stuck in processing", "bookId", handle.TrackingID, "timeout", m.processingTimeout)
	m.terminateLocked(PipelineState{
		Phase:      PhaseFailed,
		Progress:   m.state.Progress,
		TrackingID: handle.TrackingID,
		Reason:     ReasonProcessingTimeout,
		Err:        &errors.PipelineError{TrackingID: handle.TrackingID, Message: ReasonProcessingTimeout},
	})
}

// terminateLocked enters a terminal state: tear down, publish, notify once.
// It releases m.mu.
func (m *PipelineMachine) terminateLocked(next PipelineState) {
	m.teardownLocked()
	note := terminalNotification(next)
	m.logger.Info("Pipeline reached terminal state.", "bookId", next.TrackingID, "phase", next.Phase, "reason", next.Reason)
	m.obs.publishAndUnlock(m.setLocked(next), &m.mu, func() { m.sink.Notify(note) })
}

func (m *PipelineMachine) setLocked(next PipelineState) PipelineState {
	m.state = next
	return next
}

func (m *PipelineMachine) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.sub != nil {
		m.sub.Close()
		m.logger.Debug("Closed status subscription.", "document", m.sub.Key().Path())
		m.sub = nil
	}
	m.handle = nil
	m.uploadOwner = ""
}

func terminalNotification(state PipelineState) notify.Notification {
	if state.Phase == PhaseIngested {
		title := ""
		if state.Result != nil {
			title = state.Result.Title
		}
		return notify.Notification{Kind: notify.KindSuccess, Message: "Book ingested: " + title, TrackingID: state.TrackingID}
	}
	return notify.Notification{Kind: notify.KindError, Message: state.Reason, TrackingID: state.TrackingID}
}
