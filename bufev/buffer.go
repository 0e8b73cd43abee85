package bufev

import (
	"bytes"
	"sync"

	"github.com/james-lawrence/peerio/internal/chansync"
)

// NewBuffer allocate an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Buffer is a byte queue shared between the socket goroutines and the
// callbacks that consume it. every mutation signals waiters so the socket can
// resume pulling once the consumer drains below the watermark.
type Buffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	changed chansync.BroadcastCond
}

// Add appends a copy of b to the queue.
func (t *Buffer) Add(b []byte) {
	t.mu.Lock()
	t.buf.Write(b)
	t.mu.Unlock()
	t.changed.Broadcast()
}

// AddBuffer moves the entire contents of src onto the tail of t, emptying
// src.
func (t *Buffer) AddBuffer(src *Buffer) {
	t.Add(src.Take())
}

// Peek copies up to n bytes from the head without draining them.
func (t *Buffer) Peek(n int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buf.Bytes()
	n = min(n, len(b))

	return append([]byte(nil), b[:n]...)
}

// Remove drains up to len(dst) bytes into dst, returning the count moved.
func (t *Buffer) Remove(dst []byte) int {
	t.mu.Lock()
	n, _ := t.buf.Read(dst)
	t.mu.Unlock()
	t.changed.Broadcast()
	return n
}

// Drain discards up to n bytes, returning the count discarded.
func (t *Buffer) Drain(n int) int {
	t.mu.Lock()
	d := len(t.buf.Next(n))
	t.mu.Unlock()
	t.changed.Broadcast()
	return d
}

// Take removes and returns the entire contents.
func (t *Buffer) Take() []byte {
	t.mu.Lock()
	b := make([]byte, t.buf.Len())
	t.buf.Read(b)
	t.mu.Unlock()
	t.changed.Broadcast()
	return b
}

func (t *Buffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

// Signaled returns a channel closed on the next mutation.
func (t *Buffer) Signaled() chansync.Signaled {
	return t.changed.Signaled()
}
