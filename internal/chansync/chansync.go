// Package chansync provides channel based synchronization primitives with
// the semantics of github.com/anacrolix/chansync, reimplemented against the
// two primitives this module needs rather than importing the dependency.
package chansync

import (
	"sync"
	"sync/atomic"
)

type (
	// Signaled is closed when the condition it was obtained for changes.
	Signaled <-chan struct{}
	// Done is closed once a SetOnce latches.
	Done <-chan struct{}
)

// BroadcastCond is a channel flavored sync.Cond usable in select statements.
// obtain Signaled before checking the condition it guards, then select on it;
// Broadcast closes the outstanding channel. there is no Signal equivalent,
// every waiter wakes. zero value ready for use.
type BroadcastCond struct {
	mu  sync.Mutex
	gen chan struct{}
}

// Signaled the channel the next Broadcast closes.
func (t *BroadcastCond) Signaled() Signaled {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen == nil {
		t.gen = make(chan struct{})
	}

	return t.gen
}

// Broadcast wakes every waiter holding the current channel. a no-op when
// nothing is waiting.
func (t *BroadcastCond) Broadcast() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen == nil {
		return
	}

	close(t.gen)
	t.gen = nil
}

// SetOnce is a latch: a boolean that only flips from false to true, with a
// channel for select based observation. zero value ready for use.
type SetOnce struct {
	init sync.Once
	ch   chan struct{}
	set  atomic.Bool
}

// Done the channel closed once the latch flips.
func (t *SetOnce) Done() Done {
	t.initialize()
	return t.ch
}

// Set flips the latch, true only for the call that did the flipping.
func (t *SetOnce) Set() bool {
	t.initialize()

	if !t.set.CompareAndSwap(false, true) {
		return false
	}

	close(t.ch)
	return true
}

// IsSet reports whether the latch has flipped.
func (t *SetOnce) IsSet() bool {
	return t.set.Load()
}

func (t *SetOnce) initialize() {
	t.init.Do(func() {
		t.ch = make(chan struct{})
	})
}
