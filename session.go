package peerio

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/james-lawrence/peerio/evloop"
	"github.com/james-lawrence/peerio/internal/langx"
)

// Option for configuring a session.
type Option func(*Session)

// OptionSocketTOS sets the ToS byte applied to every peer socket.
func OptionSocketTOS(tos int) Option {
	return func(t *Session) {
		t.socketTOS = tos
	}
}

// OptionDownloadRateLimit bounds the rate bytes are pulled off peer sockets.
func OptionDownloadRateLimit(l *rate.Limiter) Option {
	return func(t *Session) {
		t.limiter = l
	}
}

// OptionLogging sets the debug logger, defaults to discarding.
func OptionLogging(l logging) Option {
	return func(t *Session) {
		t.log = l
	}
}

// NewSession starts the event loop all peer sockets in the session dispatch
// on.
func NewSession(options ...Option) *Session {
	t := &Session{
		loop: evloop.New(),
		log:  LogDiscard(),
	}

	langx.Compose(options...)(t)

	return t
}

// Session holds the process wide state peer connections share: the event
// loop, the session lock, and socket configuration.
type Session struct {
	mu   sync.Mutex
	loop *evloop.Loop

	socketTOS int
	limiter   *rate.Limiter
	log       logging
}

// Lock acquires the session lock. it is held across every read callback
// dispatch so consumers may traverse shared state; it is not recursive, and
// no blocking i/o may be performed while held.
func (t *Session) Lock() {
	t.mu.Lock()
}

func (t *Session) Unlock() {
	t.mu.Unlock()
}

// Loop the event loop owning callback dispatch for every connection in the
// session.
func (t *Session) Loop() *evloop.Loop {
	return t.loop
}

// Do runs fn on the event loop goroutine.
func (t *Session) Do(fn func()) {
	t.loop.Do(fn)
}

// Close stops the event loop after draining pending tasks. connections should
// be closed first.
func (t *Session) Close() {
	t.loop.Close()
}

func (t *Session) debug() logging {
	return t.log
}
