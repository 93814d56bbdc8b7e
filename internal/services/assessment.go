package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/feed"
	"github.com/Lllllllleong/bookintake/internal/models"
	"github.com/Lllllllleong/bookintake/internal/notify"
)

// Slot names one of the four assessment photos.
type Slot string

const (
	SlotCover   Slot = "cover"
	SlotSpine   Slot = "spine"
	SlotPages   Slot = "pages"
	SlotBinding Slot = "binding"
)

// Slots lists every slot in submission order.
var Slots = []Slot{SlotCover, SlotSpine, SlotPages, SlotBinding}

// ParseSlot validates a slot name.
func ParseSlot(name string) (Slot, error) {
	slot := Slot(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Slots {
		if slot == known {
			return slot, nil
		}
	}
	return "", errors.NewValidationError("slot", fmt.Sprintf("unknown slot %q", name))
}

// AssessmentPhase is the normalized assessment state.
type AssessmentPhase string

const (
	AssessmentIdle      AssessmentPhase = "idle"
	AssessmentUploading AssessmentPhase = "uploading"
	AssessmentAssessing AssessmentPhase = "assessing"
	AssessmentComplete  AssessmentPhase = "complete"
	AssessmentError     AssessmentPhase = "error"
)

// ManualOverride is a reviewer's replacement grade.
type ManualOverride struct {
	Grade  string
	Reason string
}

// AssessmentResult is the graded condition of a book.
type AssessmentResult struct {
	Grade           string
	OverallScore    float64
	Confidence      float64
	ComponentScores map[string]float64
	Details         map[string]interface{}
	PriceFactor     float64
	ManualOverride  *ManualOverride
}

func (r *AssessmentResult) clone() *AssessmentResult {
	if r == nil {
		return &AssessmentResult{}
	}
	c := *r
	c.ComponentScores = maps.Clone(r.ComponentScores)
	c.Details = maps.Clone(r.Details)
	if r.ManualOverride != nil {
		mo := *r.ManualOverride
		c.ManualOverride = &mo
	}
	return &c
}

func resultFromDocument(doc models.AssessmentDocument) *AssessmentResult {
	result := &AssessmentResult{
		Grade:           doc.Grade,
		OverallScore:    doc.OverallScore,
		Confidence:      doc.Confidence,
		ComponentScores: doc.ComponentScores,
		Details:         doc.Details,
		PriceFactor:     doc.PriceFactor,
	}
	if doc.ManualOverride {
		result.ManualOverride = &ManualOverride{Grade: doc.Grade, Reason: doc.OverrideReason}
	}
	return result
}

// AssessmentState is the client-owned view of a condition assessment.
type AssessmentState struct {
	Phase  AssessmentPhase
	BookID string
	Result *AssessmentResult
	// Overridden is set once a manual grade replaced the AI grade.
	Overridden bool
	// OverrideSyncFailed marks a local override the backend did not accept.
	OverrideSyncFailed bool
	Reason             string
	Err                error
}

// Terminal reports whether the state is Complete or Error.
func (s AssessmentState) Terminal() bool {
	return s.Phase == AssessmentComplete || s.Phase == AssessmentError
}

// classifyAssessment maps one assessment document to a state. The second
// result is false when the document causes no transition.
func classifyAssessment(doc models.AssessmentDocument) (AssessmentState, bool) {
	status := models.ParseAssessmentStatus(doc.Status)
	switch {
	case status == models.AssessmentStatusPending:
		return AssessmentState{Phase: AssessmentAssessing}, true
	case strings.TrimSpace(doc.Grade) != "":
		return AssessmentState{Phase: AssessmentComplete, Result: resultFromDocument(doc), Overridden: doc.ManualOverride}, true
	case status == models.AssessmentStatusFailed:
		reason := doc.Error
		if reason == "" {
			reason = "unknown"
		}
		return AssessmentState{Phase: AssessmentError, Reason: reason}, true
	default:
		return AssessmentState{}, false
	}
}

type assessmentAPI interface {
	AssessCondition(ctx context.Context, req models.AssessConditionRequest) (models.AssessConditionResponse, error)
	OverrideCondition(ctx context.Context, req models.OverrideConditionRequest) (models.OverrideConditionResponse, error)
}

// AssessmentCoordinator runs the condition-assessment flow for one book:
// slot selection, submission, the pushed AI result and manual overrides.
type AssessmentCoordinator struct {
	api     assessmentAPI
	feed    feed.Feed
	session *backend.Session
	sink    notify.Sink
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	slots  map[Slot]*UploadTask
	state  AssessmentState
	handle *TrackingHandle
	sub    feed.Subscription
	// uploadOwner is the principal of the submission in Uploading.
	uploadOwner string
	// attached subscriptions treat a missing document as "never assessed".
	attached bool
	closed   bool
	obs      *observable[AssessmentState]
}

// AssessmentOption customizes the AssessmentCoordinator.
type AssessmentOption func(*AssessmentCoordinator)

// WithAssessmentSink sets where notifications go.
func WithAssessmentSink(sink notify.Sink) AssessmentOption {
	return func(c *AssessmentCoordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithAssessmentLogger sets the logger.
func WithAssessmentLogger(logger *slog.Logger) AssessmentOption {
	return func(c *AssessmentCoordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAssessmentObserver registers fn for every state change.
func WithAssessmentObserver(fn func(AssessmentState)) AssessmentOption {
	return func(c *AssessmentCoordinator) {
		c.obs.addLocked(fn)
	}
}

// WithClock overrides the override timestamp source.
func WithClock(now func() time.Time) AssessmentOption {
	return func(c *AssessmentCoordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewAssessmentCoordinator creates an Idle coordinator.
func NewAssessmentCoordinator(api assessmentAPI, f feed.Feed, session *backend.Session, opts ...AssessmentOption) *AssessmentCoordinator {
	c := &AssessmentCoordinator{
		api:     api,
		feed:    f,
		session: session,
		sink:    notify.Discard,
		logger:  slog.Default(),
		now:     time.Now,
		slots:   make(map[Slot]*UploadTask),
		state:   AssessmentState{Phase: AssessmentIdle},
		obs:     newObservable[AssessmentState](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if session != nil {
		session.OnChange(func(p backend.Principal) {
			owner := ""
			if p != nil {
				owner = p.OwnerID()
			}
			c.ChangeOwner(owner)
		})
	}
	return c
}

// State returns the current state.
func (c *AssessmentCoordinator) State() AssessmentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers fn for every later state change.
func (c *AssessmentCoordinator) OnChange(fn func(AssessmentState)) {
	c.mu.Lock()
	c.obs.addLocked(fn)
	c.mu.Unlock()
}

// SetSlot selects task for slot, replacing any earlier selection.
func (c *AssessmentCoordinator) SetSlot(slot Slot, task *UploadTask) error {
	slot, err := ParseSlot(string(slot))
	if err != nil {
		return err
	}
	if err := task.validate(); err != nil {
		return err
	}
	task.TargetType = string(slot)
	c.mu.Lock()
	c.slots[slot] = task
	c.mu.Unlock()
	return nil
}

// ClearSlot removes the selection for slot.
func (c *AssessmentCoordinator) ClearSlot(slot Slot) {
	c.mu.Lock()
	delete(c.slots, slot)
	c.mu.Unlock()
}

// SelectedSlots returns the current selection.
func (c *AssessmentCoordinator) SelectedSlots() map[Slot]*UploadTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.slots)
}

// Submit sends the selected slot images for bookID and subscribes to the
// assessment document.
func (c *AssessmentCoordinator) Submit(ctx context.Context, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return errors.NewValidationError("bookId", "a book id is required")
	}
	principal := c.session.Principal()
	if principal == nil || strings.TrimSpace(principal.OwnerID()) == "" {
		return errors.NewValidationError("principal", "no authenticated principal")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.slots) == 0 {
		c.mu.Unlock()
		return errors.NewValidationError("images", "no image slots selected")
	}
	if c.state.Phase == AssessmentUploading {
		c.mu.Unlock()
		return errors.NewValidationError("images", "an assessment submission is already in progress")
	}
	selected := maps.Clone(c.slots)
	c.teardownLocked()
	c.uploadOwner = principal.OwnerID()
	c.obs.publishAndUnlock(c.setLocked(AssessmentState{Phase: AssessmentUploading, BookID: bookID}), &c.mu)

	requestID := backend.NewRequestID()
	ctx = backend.WithRequestID(ctx, requestID)
	logCtx := c.logger.With("bookId", bookID, "requestId", requestID)

	images, err := encodeSlots(selected)
	if err != nil {
		logCtx.Error("Failed to read slot images", "error", err)
		c.failSubmission(bookID, err)
		return err
	}
	req := models.AssessConditionRequest{
		BookID: bookID,
		Images: images,
		Metadata: map[string]interface{}{
			"requestId":   requestID,
			"imageCount":  len(images),
			"submittedAt": c.now().UTC().Format(time.RFC3339),
		},
	}
	resp, err := c.api.AssessCondition(ctx, req)
	if err != nil {
		logCtx.Error("Assessment submission failed", "error", err)
		c.failSubmission(bookID, err)
		return err
	}
	logCtx.Info("Assessment submitted.", "images", len(images))

	c.mu.Lock()
	if c.state.Phase != AssessmentUploading || c.state.BookID != bookID {
		dropped := c.state.Phase == AssessmentIdle
		c.mu.Unlock()
		logCtx.Info("Submission superseded before it was accepted.")
		if dropped {
			return ErrReset
		}
		return nil
	}
	c.slots = make(map[Slot]*UploadTask)
	if doc := resp.ConditionAssessment; doc != nil {
		if next, ok := classifyAssessment(*doc); ok && next.Terminal() {
			next.BookID = bookID
			c.terminateLocked(next)
			return nil
		}
	}
	return c.subscribeLocked(ctx, TrackingHandle{OwnerID: principal.OwnerID(), TrackingID: bookID}, false)
}

// Attach subscribes to the assessment of an existing book without submitting
// images. A book that was never assessed returns to Idle.
func (c *AssessmentCoordinator) Attach(ctx context.Context, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return errors.NewValidationError("bookId", "a book id is required")
	}
	principal := c.session.Principal()
	if principal == nil || strings.TrimSpace(principal.OwnerID()) == "" {
		return errors.NewValidationError("principal", "no authenticated principal")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Phase == AssessmentUploading {
		c.mu.Unlock()
		return errors.NewValidationError("bookId", "an assessment submission is already in progress")
	}
	c.teardownLocked()
	c.state = AssessmentState{Phase: AssessmentIdle, BookID: bookID}
	return c.subscribeLocked(ctx, TrackingHandle{OwnerID: principal.OwnerID(), TrackingID: bookID}, true)
}

// subscribeLocked opens the assessment subscription and moves to Assessing.
// It releases c.mu.
func (c *AssessmentCoordinator) subscribeLocked(ctx context.Context, handle TrackingHandle, attached bool) error {
	sub, err := c.feed.Subscribe(context.WithoutCancel(ctx), feed.AssessmentKey(handle.OwnerID, handle.TrackingID))
	if err != nil {
		serr := &errors.SubscriptionError{TrackingID: handle.TrackingID, Err: err}
		c.logger.Error("Failed to open assessment subscription", "bookId", handle.TrackingID, "error", err)
		c.terminateLocked(AssessmentState{
			Phase:  AssessmentError,
			BookID: handle.TrackingID,
			Reason: ReasonSubscriptionError,
			Err:    serr,
		})
		return serr
	}
	c.handle = &handle
	c.sub = sub
	c.attached = attached
	go c.pump(sub)
	c.logger.Info("Subscribed to condition assessment.", "bookId", handle.TrackingID, "attached", attached)

	c.obs.publishAndUnlock(c.setLocked(AssessmentState{Phase: AssessmentAssessing, BookID: handle.TrackingID}), &c.mu)
	return nil
}

func (c *AssessmentCoordinator) failSubmission(bookID string, err error) {
	c.mu.Lock()
	if c.state.Phase != AssessmentUploading || c.state.BookID != bookID {
		c.mu.Unlock()
		return
	}
	c.terminateLocked(AssessmentState{Phase: AssessmentError, BookID: bookID, Reason: err.Error(), Err: err})
}

// HandleEvent applies one feed delivery. Events for any key other than the
// live handle's are dropped.
func (c *AssessmentCoordinator) HandleEvent(event feed.Event) {
	c.mu.Lock()
	if c.handle == nil || event.Key != feed.AssessmentKey(c.handle.OwnerID, c.handle.TrackingID) {
		c.mu.Unlock()
		c.logger.Debug("Dropped stale assessment snapshot.", "bookId", event.Key.TrackingID)
		return
	}
	bookID := c.handle.TrackingID
	logCtx := c.logger.With("bookId", bookID)

	if event.Err != nil {
		logCtx.Error("Assessment subscription failed", "error", event.Err)
		c.terminateLocked(AssessmentState{
			Phase:  AssessmentError,
			BookID: bookID,
			Reason: ReasonSubscriptionError,
			Err:    &errors.SubscriptionError{TrackingID: bookID, Err: event.Err},
		})
		return
	}
	if !event.Exists {
		if !c.attached {
			c.mu.Unlock()
			return
		}
		logCtx.Info("No assessment recorded for book.")
		c.teardownLocked()
		c.obs.publishAndUnlock(c.setLocked(AssessmentState{Phase: AssessmentIdle, BookID: bookID}), &c.mu)
		return
	}

	doc, err := models.DecodeAssessment(event.Data)
	if err != nil {
		c.mu.Unlock()
		logCtx.Warn("Ignoring undecodable assessment snapshot", "error", err)
		return
	}
	next, ok := classifyAssessment(doc)
	if !ok || (next.Phase == c.state.Phase && !next.Terminal()) {
		c.mu.Unlock()
		return
	}
	next.BookID = bookID
	if next.Phase == AssessmentError {
		next.Err = &errors.PipelineError{TrackingID: bookID, Message: next.Reason}
	}
	if next.Terminal() {
		c.terminateLocked(next)
		return
	}
	c.obs.publishAndUnlock(c.setLocked(next), &c.mu)
}

// Override replaces the grade with a reviewer's choice. The local state is
// patched before the backend is called and is kept even if the call fails;
// a failed sync only sets OverrideSyncFailed.
func (c *AssessmentCoordinator) Override(ctx context.Context, grade, reason string) error {
	grade = strings.TrimSpace(grade)
	reason = strings.TrimSpace(reason)
	if grade == "" {
		return errors.NewValidationError("grade", "override grade is required")
	}
	if reason == "" {
		return errors.NewValidationError("reason", "override reason is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	bookID := c.state.BookID
	if bookID == "" {
		c.mu.Unlock()
		return errors.NewValidationError("bookId", "no assessment to override")
	}
	if c.state.Phase == AssessmentUploading {
		c.mu.Unlock()
		return errors.NewValidationError("bookId", "an assessment submission is still in progress")
	}
	result := c.state.Result.clone()
	result.Grade = grade
	result.PriceFactor = models.PriceFactorForGrade(grade)
	result.ManualOverride = &ManualOverride{Grade: grade, Reason: reason}
	c.teardownLocked()
	c.obs.publishAndUnlock(c.setLocked(AssessmentState{
		Phase:      AssessmentComplete,
		BookID:     bookID,
		Result:     result,
		Overridden: true,
	}), &c.mu)

	logCtx := c.logger.With("bookId", bookID, "grade", grade)
	if !models.IsKnownGrade(grade) {
		logCtx.Warn("Override grade is not a standard grade")
	}
	resp, err := c.api.OverrideCondition(ctx, models.OverrideConditionRequest{
		BookID:        bookID,
		OverrideGrade: grade,
		Reason:        reason,
		Timestamp:     c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logCtx.Error("Failed to save override", "error", err)
		c.markOverride(bookID, grade, func(s *AssessmentState) { s.OverrideSyncFailed = true })
		c.sink.Notify(notify.Notification{Kind: notify.KindError, Message: "Failed to save override: " + err.Error(), TrackingID: bookID})
		return err
	}

	if doc := resp.ConditionAssessment; doc != nil && doc.PriceFactor > 0 {
		c.markOverride(bookID, grade, func(s *AssessmentState) { s.Result.PriceFactor = doc.PriceFactor })
	}
	logCtx.Info("Override saved.")
	c.sink.Notify(notify.Notification{Kind: notify.KindSuccess, Message: "Condition overridden to " + grade, TrackingID: bookID})
	return nil
}

// markOverride patches the state if it still shows the override for grade.
func (c *AssessmentCoordinator) markOverride(bookID, grade string, patch func(*AssessmentState)) {
	c.mu.Lock()
	s := c.state
	if s.BookID != bookID || !s.Overridden || s.Result == nil || s.Result.ManualOverride == nil || s.Result.ManualOverride.Grade != grade {
		c.mu.Unlock()
		return
	}
	s.Result = s.Result.clone()
	patch(&s)
	c.obs.publishAndUnlock(c.setLocked(s), &c.mu)
}

// Reset clears the slots and returns to Idle.
func (c *AssessmentCoordinator) Reset() {
	c.mu.Lock()
	c.teardownLocked()
	c.slots = make(map[Slot]*UploadTask)
	if c.state.Phase == AssessmentIdle && c.state.BookID == "" {
		c.mu.Unlock()
		return
	}
	c.obs.publishAndUnlock(c.setLocked(AssessmentState{Phase: AssessmentIdle}), &c.mu)
}

// ChangeOwner drops an assessment, submitted or in flight, that belongs to
// anyone but ownerID.
func (c *AssessmentCoordinator) ChangeOwner(ownerID string) {
	c.mu.Lock()
	uploading := c.state.Phase == AssessmentUploading && c.uploadOwner != ownerID
	if !uploading && (c.handle == nil || c.handle.OwnerID == ownerID) {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.obs.publishAndUnlock(c.setLocked(AssessmentState{Phase: AssessmentIdle}), &c.mu)
}

// Close tears down the subscription and releases waiters. It is idempotent.
func (c *AssessmentCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.teardownLocked()
	c.obs.wakeLocked()
}

// Wait blocks until the assessment is terminal, goes back to Idle, the
// coordinator is closed, or ctx ends.
func (c *AssessmentCoordinator) Wait(ctx context.Context) (AssessmentState, error) {
	for {
		c.mu.Lock()
		state, closed, changed := c.state, c.closed, c.obs.waitChanLocked()
		c.mu.Unlock()

		switch {
		case state.Terminal():
			return state, nil
		case closed:
			return state, ErrClosed
		case state.Phase == AssessmentIdle:
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
func (c *AssessmentCoordinator) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

func (c *AssessmentCoordinator) pump(sub feed.Subscription) {
	for event := range sub.Events() {
		c.HandleEvent(event)
	}

	c.mu.Lock()
	if c.sub != sub || c.handle == nil {
		c.mu.Unlock()
		return
	}
	bookID := c.handle.TrackingID
	c.logger.Error("Assessment subscription closed", "bookId", bookID, "error", feed.ErrChannelClosed)
	c.terminateLocked(AssessmentState{
		Phase:  AssessmentError,
		BookID: bookID,
		Reason: ReasonSubscriptionError,
		Err:    &errors.SubscriptionError{TrackingID: bookID, Err: feed.ErrChannelClosed},
	})
}

// terminateLocked enters a terminal state: tear down, publish, notify once.
// It releases c.mu.
func (c *AssessmentCoordinator) terminateLocked(next AssessmentState) {
	c.teardownLocked()
	note := notify.Notification{Kind: notify.KindError, Message: next.Reason, TrackingID: next.BookID}
	if next.Phase == AssessmentComplete {
		note = notify.Notification{Kind: notify.KindSuccess, Message: "Condition assessed: " + next.Result.Grade, TrackingID: next.BookID}
	}
	c.logger.Info("Assessment reached terminal state.", "bookId", next.BookID, "phase", next.Phase, "reason", next.Reason)
	c.obs.publishAndUnlock(c.setLocked(next), &c.mu, func() { c.sink.Notify(note) })
}

func (c *AssessmentCoordinator) setLocked(next AssessmentState) AssessmentState {
	c.state = next
	return next
}

func (c *AssessmentCoordinator) teardownLocked() {
	if c.sub != nil {
		c.sub.Close()
		c.logger.Debug("Closed assessment subscription.", "document", c.sub.Key().Path())
		c.sub = nil
	}
	c.handle = nil
	c.uploadOwner = ""
	c.attached = false
}

func encodeSlots(selected map[Slot]*UploadTask) ([]models.AssessmentImage, error) {
	images := make([]models.AssessmentImage, 0, len(selected))
	for _, slot := range Slots {
		task, ok := selected[slot]
		if !ok {
			continue
		}
		content, err := readTask(task)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s image: %w", slot, err)
		}
		images = append(images, models.AssessmentImage{
			Type:    string(slot),
			Content: base64.StdEncoding.EncodeToString(content),
		})
		task.setStatus(TaskDone)
	}
	return images, nil
}

func readTask(task *UploadTask) ([]byte, error) {
	task.setStatus(TaskUploading)
	body, err := task.Open()
	if err != nil {
		task.setStatus(TaskFailed)
		return nil, err
	}
	defer body.Close()
	content, err := io.ReadAll(body)
	if err != nil {
		task.setStatus(TaskFailed)
		return nil, err
	}
	return content, nil
}
