// Package feed wraps the push-based change feed the backend writes job status
// into. A Subscription is a scoped resource: it delivers raw document
// snapshots on a channel until Close is called, the context ends, or the
// channel fails, and it always closes its channel on the way out.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrChannelClosed reports a subscription whose channel ended without an
// error event while the reader still wanted it.
var ErrChannelClosed = errors.New("feed: channel closed unexpectedly")

// Collections keyed under users/{uid}.
const (
	BooksCollection       = "books"
	AssessmentsCollection = "condition_assessments"
)

// Key identifies one remote document: users/{OwnerID}/{Collection}/{TrackingID}.
type Key struct {
	Collection string
	OwnerID    string
	TrackingID string
}

// BookKey returns the key of the pipeline status document for a job.
func BookKey(ownerID, trackingID string) Key {
	return Key{Collection: BooksCollection, OwnerID: ownerID, TrackingID: trackingID}
}

// AssessmentKey returns the key of the condition-assessment document for a job.
func AssessmentKey(ownerID, trackingID string) Key {
	return Key{Collection: AssessmentsCollection, OwnerID: ownerID, TrackingID: trackingID}
}

// Path returns the Firestore document path.
func (k Key) Path() string {
	return fmt.Sprintf("users/%s/%s/%s", k.OwnerID, k.Collection, k.TrackingID)
}

// Validate rejects keys that would address the wrong document.
func (k Key) Validate() error {
	for name, part := range map[string]string{"collection": k.Collection, "owner": k.OwnerID, "tracking id": k.TrackingID} {
		if strings.TrimSpace(part) == "" {
			return fmt.Errorf("feed key: %s is required", name)
		}
		if strings.Contains(part, "/") {
			return fmt.Errorf("feed key: %s %q must not contain '/'", name, part)
		}
	}
	return nil
}

// Event is one delivery from a subscription. A non-nil Err is the last event
// before the channel closes.
type Event struct {
	Key    Key
	Exists bool
	Data   map[string]interface{}
	Err    error
}

// Subscription is a live push subscription to a single document.
type Subscription interface {
	Key() Key
	// Events is closed once the subscription has fully stopped.
	Events() <-chan Event
	// Close stops delivery. It is idempotent and does not wait for the
	// reader to drain.
	Close()
}

// Feed opens subscriptions. The subscription lives until Close or until ctx
// is done.
type Feed interface {
	Subscribe(ctx context.Context, key Key) (Subscription, error)
}
