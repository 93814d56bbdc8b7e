// Package testsupport provides in-memory collaborators for service tests.
package testsupport

import (
	"context"
	"errors"
	"sync"

	"github.com/Lllllllleong/bookintake/internal/feed"
)

const memoryBuffer = 64

// MemoryFeed is an in-process feed.Feed. Tests push snapshots with Publish
// and inspect how many subscriptions are live.
type MemoryFeed struct {
	mu      sync.Mutex
	live    map[*memorySubscription]struct{}
	opened  int
	openErr error
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{live: make(map[*memorySubscription]struct{})}
}

// FailSubscribe makes the next Subscribe calls return err.
func (f *MemoryFeed) FailSubscribe(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *MemoryFeed) Subscribe(ctx context.Context, key feed.Key) (feed.Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	sub := &memorySubscription{feed: f, key: key, events: make(chan feed.Event, memoryBuffer)}
	f.live[sub] = struct{}{}
	f.opened++
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			sub.Close()
		}()
	}
	return sub, nil
}

// Publish delivers a snapshot of data to every live subscription on key and
// returns how many received it. A nil data map publishes a missing document.
func (f *MemoryFeed) Publish(key feed.Key, data map[string]interface{}) int {
	return f.deliver(key, feed.Event{Key: key, Exists: data != nil, Data: data}, false)
}

// Fail delivers a channel error to every live subscription on key and then
// ends those subscriptions, as a dropped realtime channel does.
func (f *MemoryFeed) Fail(key feed.Key, err error) int {
	if err == nil {
		err = errors.New("channel dropped")
	}
	return f.deliver(key, feed.Event{Key: key, Err: err}, true)
}

// Drop ends every live subscription on key without an error event, as a
// stream cancelled by the server can.
func (f *MemoryFeed) Drop(key feed.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for sub := range f.live {
		if sub.key == key {
			sub.closeLocked()
			n++
		}
	}
	return n
}

func (f *MemoryFeed) deliver(key feed.Key, event feed.Event, final bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for sub := range f.live {
		if sub.key != key {
			continue
		}
		select {
		case sub.events <- event:
			n++
		default:
		}
		if final {
			sub.closeLocked()
		}
	}
	return n
}

// Live returns the number of subscriptions that have not been closed.
func (f *MemoryFeed) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// LiveFor returns the number of open subscriptions on key.
func (f *MemoryFeed) LiveFor(key feed.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for sub := range f.live {
		if sub.key == key {
			n++
		}
	}
	return n
}

// Opened returns how many subscriptions were ever opened.
func (f *MemoryFeed) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type memorySubscription struct {
	feed   *MemoryFeed
	key    feed.Key
	events chan feed.Event
	closed bool
}

func (s *memorySubscription) Key() feed.Key { return s.key }

func (s *memorySubscription) Events() <-chan feed.Event { return s.events }

func (s *memorySubscription) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closeLocked()
}

func (s *memorySubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.feed.live, s)
	close(s.events)
}
