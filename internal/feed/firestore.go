package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/status"
)

// FirestoreFeed subscribes to documents with DocumentRef.Snapshots.
type FirestoreFeed struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestoreFeed creates a Feed backed by a Firestore client.
func NewFirestoreFeed(client *firestore.Client, logger *slog.Logger) *FirestoreFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreFeed{client: client, logger: logger}
}

// Subscribe opens a realtime listener on the document named by key.
func (f *FirestoreFeed) Subscribe(ctx context.Context, key Key) (Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if f.client == nil {
		return nil, errors.New("firestore feed: client is nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSubscription{
		key:    key,
		events: make(chan Event, 1),
		cancel: cancel,
	}
	it := f.client.Doc(key.Path()).Snapshots(ctx)
	logCtx := f.logger.With("document", key.Path())
	logCtx.Debug("Opened document listener.")
	go sub.run(ctx, it, logCtx)
	return sub, nil
}

type firestoreSubscription struct {
	key    Key
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *firestoreSubscription) Key() Key { return s.key }

func (s *firestoreSubscription) Events() <-chan Event { return s.events }

// Close cancels the listener context. The iterator is stopped by the reader
// goroutine, since Stop must not race with Next.
func (s *firestoreSubscription) Close() {
	s.once.Do(s.cancel)
}

func (s *firestoreSubscription) run(ctx context.Context, it *firestore.DocumentSnapshotIterator, logCtx *slog.Logger) {
	defer close(s.events)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if stopped(ctx, err) {
				logCtx.Debug("Document listener stopped.")
				return
			}
			logCtx.Warn("Document listener failed", "code", status.Code(err), "error", err)
			s.send(ctx, Event{Key: s.key, Err: fmt.Errorf("listen %s: %w", s.key.Path(), err)})
			return
		}
		event := Event{Key: s.key, Exists: snap.Exists()}
		if event.Exists {
			event.Data = snap.Data()
		}
		if !s.send(ctx, event) {
			return
		}
	}
}

func (s *firestoreSubscription) send(ctx context.Context, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// stopped reports whether err means the listener was shut down on purpose.
// A Canceled status counts only once our own context is done; the server
// can cancel a stream we still want.
func stopped(ctx context.Context, err error) bool {
	return errors.Is(err, iterator.Done) || ctx.Err() != nil
}
