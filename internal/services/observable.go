package services

import (
	"slices"
	"sync"
)

// observable broadcasts state changes of a machine guarded by an external
// mutex. Observers run outside the machine lock, so they may read State, but
// must not call the machine's mutating methods. An observer never sees an
// older state after a newer one; intermediate states can be skipped when
// transitions race.
type observable[S any] struct {
	changed   chan struct{}
	observers []func(S)
	seq       uint64

	emitMu    sync.Mutex
	delivered uint64
}

func newObservable[S any]() *observable[S] {
	return &observable[S]{changed: make(chan struct{})}
}

// addLocked registers fn. The machine lock must be held.
func (o *observable[S]) addLocked(fn func(S)) {
	if fn != nil {
		o.observers = append(o.observers, fn)
	}
}

// waitChanLocked returns a channel closed on the next change.
func (o *observable[S]) waitChanLocked() <-chan struct{} {
	return o.changed
}

// wakeLocked releases every waiter blocked on the current generation.
func (o *observable[S]) wakeLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

// publishAndUnlock records next as a new generation, releases mu and then
// delivers next to observers followed by the effects. Effects always run.
func (o *observable[S]) publishAndUnlock(next S, mu *sync.Mutex, effects ...func()) {
	o.wakeLocked()
	o.seq++
	seq := o.seq
	observers := slices.Clone(o.observers)
	mu.Unlock()

	o.emitMu.Lock()
	if seq > o.delivered {
		o.delivered = seq
		for _, fn := range observers {
			fn(next)
		}
	}
	o.emitMu.Unlock()

	for _, fn := range effects {
		if fn != nil {
			fn()
		}
	}
}
