// Package bufev wraps a net.Conn with buffered, callback driven i/o: an input
// buffer gated by a high watermark, an output buffer drained by a writer
// goroutine, a bidirectional inactivity timeout, and readable/writable/error
// callbacks dispatched on an event loop.
package bufev

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/james-lawrence/peerio/evloop"
	"github.com/james-lawrence/peerio/internal/atomicx"
	"github.com/james-lawrence/peerio/internal/bytesx"
	"github.com/james-lawrence/peerio/internal/chansync"
	"github.com/james-lawrence/peerio/internal/errorsx"
)

// Option for configuring a socket at construction.
type Option func(*Socket)

// OptionTimeout sets the inactivity timeout for both directions. zero
// disables the timeout.
func OptionTimeout(d time.Duration) Option {
	return func(t *Socket) {
		t.timeout.Store(d)
	}
}

// OptionWatermark sets the input watermark pair. once the input buffer holds
// hi or more bytes the socket stops pulling from the connection until the
// consumer drains it; the kernel socket buffer holds the excess. zero hi
// disables the bound.
func OptionWatermark(lo, hi int) Option {
	return func(t *Socket) {
		t.lo.Store(uint32(lo))
		t.hi.Store(uint32(hi))
	}
}

// OptionLimiter bounds the rate bytes are pulled off the connection.
func OptionLimiter(l *rate.Limiter) Option {
	return func(t *Socket) {
		t.limiter = l
	}
}

// New wraps conn. the callbacks fire on the provided loop: readable when
// input holds data and reads are enabled, writable when the output buffer has
// fully drained, failed on timeout, EOF, or socket error.
func New(loop *evloop.Loop, conn net.Conn, readable func(), writable func(), failed func(What), options ...Option) *Socket {
	t := &Socket{
		loop:         loop,
		conn:         conn,
		input:        NewBuffer(),
		output:       NewBuffer(),
		cbs:          atomicx.Pointer(callbacks{readable: readable, writable: writable, failed: failed}),
		lo:           atomicx.Uint32(0),
		hi:           atomicx.Uint32(0),
		readEnabled:  atomicx.Bool(true),
		writeEnabled: atomicx.Bool(true),
	}

	for _, opt := range options {
		opt(t)
	}

	go t.reader()
	go t.writer()

	return t
}

// Socket pairs a connection with its input/output buffers. a reader goroutine
// pulls bytes into input, a writer goroutine drains output; both park when
// their direction is disabled and exit on close. all callbacks run on the
// event loop.
type Socket struct {
	conn net.Conn
	loop *evloop.Loop

	input  *Buffer
	output *Buffer

	cbs *atomic.Pointer[callbacks]

	limiter *rate.Limiter

	timeout atomicx.Duration
	lo      *atomic.Uint32
	hi      *atomic.Uint32

	readEnabled  *atomic.Bool
	writeEnabled *atomic.Bool
	wake         chansync.BroadcastCond
	closed       chansync.SetOnce
}

func (t *Socket) Input() *Buffer {
	return t.input
}

func (t *Socket) Output() *Buffer {
	return t.output
}

// OutputLen bytes queued for the wire but not yet written.
func (t *Socket) OutputLen() int {
	return t.output.Len()
}

func (t *Socket) Conn() net.Conn {
	return t.conn
}

// Write appends b to the output buffer and kicks the writer.
func (t *Socket) Write(b []byte) {
	t.output.Add(b)
}

// SetTimeout replaces the inactivity timeout for both directions and
// re-enables them. takes effect immediately, including for a read already in
// flight.
func (t *Socket) SetTimeout(d time.Duration) {
	t.timeout.Store(d)

	if d > 0 {
		deadline := time.Now().Add(d)
		t.conn.SetReadDeadline(deadline)
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetReadDeadline(time.Time{})
		t.conn.SetWriteDeadline(time.Time{})
	}

	t.Enable()
}

// SetWatermark replaces the input watermark pair.
func (t *Socket) SetWatermark(lo, hi int) {
	t.lo.Store(uint32(lo))
	t.hi.Store(uint32(hi))
	t.wake.Broadcast()
}

// Enable resumes both directions after a timeout, error, or Disable parked
// them.
func (t *Socket) Enable() {
	t.readEnabled.Store(true)
	t.writeEnabled.Store(true)
	t.wake.Broadcast()
}

// Disable parks both directions: buffered input is retained and the readable
// callback stays silent until Enable. a read or write already blocked in the
// kernel may still complete: a read buffers its bytes, and a finished write or
// a failure may still fire the writable or failed callback.
func (t *Socket) Disable() {
	t.readEnabled.Store(false)
	t.writeEnabled.Store(false)
	t.wake.Broadcast()
}

// SetCallbacks replaces the three callback slots; nil silences a slot.
func (t *Socket) SetCallbacks(readable func(), writable func(), failed func(What)) {
	t.cbs.Store(&callbacks{readable: readable, writable: writable, failed: failed})
}

// Close tears the socket down: the goroutines exit, pending callback
// dispatches become no-ops, and the connection is closed. idempotent.
func (t *Socket) Close() error {
	if !t.closed.Set() {
		return nil
	}

	return t.conn.Close()
}

// gate blocks until the direction is enabled, returning false once closed.
func (t *Socket) gate(enabled *atomic.Bool) bool {
	for {
		if t.closed.IsSet() {
			return false
		}

		sig := t.wake.Signaled()
		if enabled.Load() {
			return true
		}

		select {
		case <-sig:
		case <-t.closed.Done():
			return false
		}
	}
}

func (t *Socket) reader() {
	buf := make([]byte, 32*bytesx.KiB)

	for {
		if !t.gate(t.readEnabled) {
			return
		}

		n := len(buf)
		if hi := int(t.hi.Load()); hi > 0 {
			var (
				sig  = t.input.Signaled()
				wsig = t.wake.Signaled()
			)

			avail := hi - t.input.Len()
			if avail <= 0 {
				select {
				case <-sig:
				case <-wsig:
				case <-t.closed.Done():
					return
				}
				continue
			}

			n = min(n, avail)
		}

		if l := t.limiter; l != nil && l.Burst() > 0 {
			n = min(n, l.Burst())
			if r := l.ReserveN(time.Now(), n); r.OK() {
				time.Sleep(r.Delay())
			}
		}

		if to := t.timeout.Load(); to > 0 {
			t.conn.SetReadDeadline(time.Now().Add(to))
		} else {
			t.conn.SetReadDeadline(time.Time{})
		}

		n, err := t.conn.Read(buf[:n])
		if n > 0 {
			t.input.Add(buf[:n])
			t.dispatchReadable()
		}

		if err != nil {
			if t.closed.IsSet() {
				return
			}

			t.readEnabled.Store(false)
			t.fail(WhatReading | classify(err))
		}
	}
}

func (t *Socket) writer() {
	buf := make([]byte, 16*bytesx.KiB)

	for {
		if !t.gate(t.writeEnabled) {
			return
		}

		sig := t.output.Signaled()
		n := t.output.Remove(buf)
		if n == 0 {
			select {
			case <-sig:
			case <-t.closed.Done():
				return
			}
			continue
		}
		b := buf[:n]

		if to := t.timeout.Load(); to > 0 {
			t.conn.SetWriteDeadline(time.Now().Add(to))
		} else {
			t.conn.SetWriteDeadline(time.Time{})
		}

		if _, err := t.conn.Write(b); err != nil {
			if t.closed.IsSet() {
				return
			}

			t.writeEnabled.Store(false)
			t.fail(WhatWriting | classify(err))
			continue
		}

		if t.output.Len() == 0 {
			t.dispatchWritable()
		}
	}
}

func (t *Socket) dispatchReadable() {
	t.loop.Do(func() {
		if t.closed.IsSet() || !t.readEnabled.Load() {
			return
		}

		if t.input.Len() == 0 {
			return
		}

		if cb := t.cbs.Load().readable; cb != nil {
			cb()
		}
	})
}

func (t *Socket) dispatchWritable() {
	t.loop.Do(func() {
		if t.closed.IsSet() || t.output.Len() > 0 {
			return
		}

		if cb := t.cbs.Load().writable; cb != nil {
			cb()
		}
	})
}

func (t *Socket) fail(what What) {
	t.loop.Do(func() {
		if t.closed.IsSet() {
			return
		}

		if cb := t.cbs.Load().failed; cb != nil {
			cb(what)
		}
	})
}

type callbacks struct {
	readable func()
	writable func()
	failed   func(What)
}

func classify(err error) What {
	switch {
	case errors.Is(err, io.EOF):
		return WhatEOF
	case errorsx.IsTimeout(err):
		return WhatTimeout
	default:
		return WhatError
	}
}
