package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/notify"
	"github.com/Lllllllleong/bookintake/internal/testsupport"
)

const testOwner = "u1"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func imageTasks(names ...string) []*UploadTask {
	tasks := make([]*UploadTask, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, NewBytesTask(name, "image/jpeg", []byte("jpeg:"+name)))
	}
	return tasks
}

type pipelineFixture struct {
	backend  *testsupport.FakeBackend
	client   *backend.Client
	feed     *testsupport.MemoryFeed
	sink     *notify.Recorder
	machine  *PipelineMachine
	orch     *Orchestrator
	mu       sync.Mutex
	observed []PipelineState
}

func newPipelineFixture(t *testing.T, opts ...PipelineOption) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		backend: testsupport.NewFakeBackend(t),
		feed:    testsupport.NewMemoryFeed(),
		sink:    &notify.Recorder{},
	}
	fx.client = fx.backend.Client(t, testOwner)
	opts = append([]PipelineOption{
		WithPipelineSink(fx.sink),
		WithPipelineLogger(quietLogger()),
		WithPipelineObserver(fx.record),
	}, opts...)
	fx.machine = NewPipelineMachine(fx.feed, opts...)
	fx.orch = NewOrchestrator(
		NewObjectUploader(fx.client, fx.client, WithUploaderLogger(quietLogger())),
		NewPipelineTrigger(fx.client, quietLogger()),
		fx.machine,
		fx.client.Session(),
		WithOrchestratorLogger(quietLogger()),
		WithMaxConcurrentUploads(4),
	)
	t.Cleanup(fx.orch.Close)
	return fx
}

func (fx *pipelineFixture) record(s PipelineState) {
	fx.mu.Lock()
	fx.observed = append(fx.observed, s)
	fx.mu.Unlock()
}

func (fx *pipelineFixture) states() []PipelineState {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]PipelineState(nil), fx.observed...)
}

// waitTerminalObserved waits until observers have seen a terminal state,
// which can trail Wait by a moment on the pump goroutine.
func (fx *pipelineFixture) waitTerminalObserved(t *testing.T) {
	t.Helper()
	eventually(t, "terminal observer call", func() bool {
		s := fx.states()
		return len(s) > 0 && s[len(s)-1].Terminal()
	})
}

func waitNotified(t *testing.T, rec *notify.Recorder, kind notify.Kind, n int) {
	t.Helper()
	eventually(t, fmt.Sprintf("%d %s notifications", n, kind), func() bool {
		return rec.Count(kind) >= n
	})
	if got := rec.Count(kind); got != n {
		t.Fatalf("%s notifications = %d, want %d: %+v", kind, got, n, rec.Notifications())
	}
}

type stubUploader struct {
	gate  chan struct{}
	calls chan string
}

func (u *stubUploader) Upload(ctx context.Context, task *UploadTask) (string, error) {
	if u.calls != nil {
		u.calls <- task.Filename
	}
	if u.gate != nil {
		<-u.gate
	}
	return "gs://fake-bucket/" + task.Filename, nil
}

type stubTrigger struct {
	bookIDs []string
	n       int
	mu      sync.Mutex
}

func (s *stubTrigger) Start(ctx context.Context, objectIDs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.bookIDs[s.n%len(s.bookIDs)]
	s.n++
	return id, nil
}

func (s *stubTrigger) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func slotTask(name, content string) *UploadTask {
	return NewBytesTask(name, "image/jpeg", []byte(content))
}
