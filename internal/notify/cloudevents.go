package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

const (
	eventTypePrefix    = "dev.bookintake.notification."
	defaultSendTimeout = 5 * time.Second
	queueSize          = 32
)

// CloudEventSink publishes notifications as structured CloudEvents over HTTP,
// so another process (a dashboard, a webhook relay) can present them. Events
// are sent from a background goroutine; Notify never waits on the network
// and drops events when the queue is full.
type CloudEventSink struct {
	client  cloudevents.Client
	source  string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan cloudevents.Event
	done   chan struct{}
}

// NewCloudEventSink creates a sink that POSTs events to target.
func NewCloudEventSink(target, source string, logger *slog.Logger) (*CloudEventSink, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("cloudevents sink: target is required")
	}
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CloudEventSink{
		client:  client,
		source:  source,
		timeout: defaultSendTimeout,
		logger:  logger,
		queue:   make(chan cloudevents.Event, queueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Notify queues n for delivery.
func (s *CloudEventSink) Notify(n Notification) {
	event := cloudevents.NewEvent()
	event.SetType(eventTypePrefix + string(n.Kind))
	event.SetSource(s.source)
	if n.TrackingID != "" {
		event.SetSubject(n.TrackingID)
	}
	if err := event.SetData(cloudevents.ApplicationJSON, n); err != nil {
		s.logger.Error("Failed to encode notification event", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("Notification event after close dropped", "type", event.Type())
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("Notification queue full, event dropped", "type", event.Type())
	}
}

// Close stops accepting events and waits for the queued ones to be sent.
func (s *CloudEventSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *CloudEventSink) run() {
	defer close(s.done)
	for event := range s.queue {
		s.send(event)
	}
}

func (s *CloudEventSink) send(event cloudevents.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if result := s.client.Send(ctx, event); cloudevents.IsUndelivered(result) || !cloudevents.IsACK(result) {
		s.logger.Warn("Notification event not delivered", "type", event.Type(), "error", result)
	}
}
