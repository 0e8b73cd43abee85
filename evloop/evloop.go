// Package evloop runs tasks on a single goroutine. buffered sockets dispatch
// every callback through a loop which provides the serialization guarantees
// the peer layer is built on: callbacks on a connection never overlap with
// each other nor with themselves.
package evloop

import (
	"sync"
	"sync/atomic"

	"github.com/james-lawrence/peerio/internal/chansync"
)

// New starts the loop goroutine.
func New() *Loop {
	t := &Loop{
		done: make(chan struct{}),
	}

	go t.run()

	return t
}

// Loop owns a single goroutine that executes posted tasks in order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	pending chansync.BroadcastCond
	closed  chansync.SetOnce
	done    chan struct{}
	gid     atomic.Uint64
}

// Do posts fn for execution on the loop goroutine. tasks posted after Close
// are dropped.
func (t *Loop) Do(fn func()) {
	if t.closed.IsSet() {
		return
	}

	t.mu.Lock()
	t.queue = append(t.queue, fn)
	t.mu.Unlock()

	t.pending.Broadcast()
}

// InLoop reports whether the caller is running on the loop goroutine.
func (t *Loop) InLoop() bool {
	return gid() == t.gid.Load()
}

// Close stops the loop after draining the tasks posted before it. safe to
// invoke from any goroutine, including the loop itself, and idempotent.
func (t *Loop) Close() {
	if !t.closed.Set() {
		return
	}

	if !t.InLoop() {
		<-t.done
	}
}

func (t *Loop) run() {
	defer close(t.done)

	t.gid.Store(gid())

	for {
		sig := t.pending.Signaled()

		if n := t.drain(); n > 0 {
			continue
		}

		select {
		case <-sig:
		case <-t.closed.Done():
			t.drain()
			return
		}
	}
}

func (t *Loop) drain() int {
	t.mu.Lock()
	q := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, fn := range q {
		fn()
	}

	return len(q)
}
