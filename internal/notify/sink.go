// Package notify delivers user-visible {kind, message} notifications.
// Sinks are fire-and-forget: a failing sink logs and returns.
package notify

import (
	"log/slog"
	"sync"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
)

// Notification is one user-visible message.
type Notification struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	TrackingID string `json:"bookId,omitempty"`
}

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// LogSink writes notifications to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(n Notification) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logCtx := logger.With("kind", string(n.Kind))
	if n.TrackingID != "" {
		logCtx = logCtx.With("bookId", n.TrackingID)
	}
	switch n.Kind {
	case KindError:
		logCtx.Error(n.Message)
	case KindWarning:
		logCtx.Warn(n.Message)
	default:
		logCtx.Info(n.Message)
	}
}

// Multi fans a notification out to every sink in order.
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(n)
		}
	}
}

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Notifications returns a copy of what has been recorded.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}
