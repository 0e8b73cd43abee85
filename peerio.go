// Package peerio implements the per connection byte transport a bittorrent
// peer session sits on: one PeerIO per TCP peer, owning the socket and its
// buffered adapter, applying optional stream encryption to every byte in
// either direction, and driving the consumer's read/write/error callbacks
// from the session's event loop.
package peerio

import (
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/james-lawrence/peerio/bufev"
	"github.com/james-lawrence/peerio/internal/atomicx"
	"github.com/james-lawrence/peerio/internal/bytesx"
	"github.com/james-lawrence/peerio/internal/chansync"
	"github.com/james-lawrence/peerio/internal/langx"
	"github.com/james-lawrence/peerio/mse"
)

// ReadResult is returned by the read callback to steer the dispatch loop.
type ReadResult int

const (
	// ReadMore progress was made but more bytes are needed before anything
	// else happens.
	ReadMore ReadResult = iota
	// ReadAgain progress was made and the callback should run again
	// immediately if input remains buffered.
	ReadAgain
	// ReadDone the consumer cannot proceed until an external condition
	// changes.
	ReadDone
)

// EncryptionMode selects how bytes move through the read and write
// primitives.
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = iota
	EncryptionRC4
)

const (
	// PeerIDSize length of a peer identifier.
	PeerIDSize = 20

	// DefaultTimeout bidirectional idleness before the error callback fires.
	DefaultTimeout = 8 * time.Second

	// input high watermark, sized for a typical piece request message: 16KiB
	// of payload plus the 13 byte header.
	readWatermark = 16*bytesx.KiB + 13
)

type (
	// ReadFunc consumes buffered input, returning how the dispatch loop
	// should continue. invoked with the session lock held; must not block.
	ReadFunc func(in *bufev.Buffer, user any) ReadResult
	// WroteFunc fires once the output buffer has fully drained.
	WroteFunc func(user any)
	// ErrorFunc fires on timeout, EOF, or socket error with the reason mask.
	// teardown is the consumer's decision.
	ErrorFunc func(what bufev.What, user any)
)

type iofuncs struct {
	read   ReadFunc
	wrote  WroteFunc
	failed ErrorFunc
	user   any
}

// NewOutgoing opens a connection to the peer at remote for the swarm
// identified by hash.
func NewOutgoing(s *Session, remote netip.AddrPort, hash [mse.HashSize]byte) (*PeerIO, error) {
	conn, err := s.dial(remote)
	if err != nil {
		return nil, err
	}

	return newPeerIO(s, conn, remote, &hash, false), nil
}

// NewIncoming adopts an already accepted socket. the swarm is unknown until
// the remote's handshake arrives; install it with SetTorrentHash.
func NewIncoming(s *Session, conn net.Conn, remote netip.AddrPort) *PeerIO {
	s.setTOS(conn, remote)
	return newPeerIO(s, conn, remote, nil, true)
}

func newPeerIO(s *Session, conn net.Conn, remote netip.AddrPort, hash *[mse.HashSize]byte, incoming bool) *PeerIO {
	t := &PeerIO{
		session:  s,
		incoming: incoming,
		remote:   remote,
		crypto:   mse.NewCipher(hash, incoming),
		mode:     atomicx.Uint32(EncryptionNone),
		created:  time.Now(),
		buffered: &atomic.Pointer[bufev.Socket]{},
		funcs:    &atomic.Pointer[iofuncs]{},
	}
	t.timeout.Store(DefaultTimeout)
	t.attach(conn)

	return t
}

// PeerIO owns one peer socket and the buffered adapter wrapped around it.
type PeerIO struct {
	session *Session

	incoming bool
	remote   netip.AddrPort

	// replaced together with the socket on reconnect.
	buffered *atomic.Pointer[bufev.Socket]

	crypto *mse.Cipher
	mode   *atomic.Uint32

	peerid atomic.Pointer[[PeerIDSize]byte]
	ltep   atomic.Bool
	fext   atomic.Bool

	timeout  atomicx.Duration
	created  time.Time
	fromPeer atomic.Int64

	funcs  *atomic.Pointer[iofuncs]
	closed chansync.SetOnce
}

func (t *PeerIO) attach(conn net.Conn) {
	t.buffered.Store(bufev.New(
		t.session.loop,
		conn,
		t.canRead,
		t.didWrite,
		t.gotError,
		bufev.OptionTimeout(t.timeout.Load()),
		bufev.OptionWatermark(0, readWatermark),
		bufev.OptionLimiter(t.session.limiter),
	))
}

// SetIOFuncs installs the three callbacks and the opaque user value, then
// drains any input already buffered (bytes left over from the handshake
// prologue) into the new read callback.
func (t *PeerIO) SetIOFuncs(read ReadFunc, wrote WroteFunc, failed ErrorFunc, user any) {
	t.funcs.Store(&iofuncs{read: read, wrote: wrote, failed: failed, user: user})
	t.TryRead()
}

// TryRead drives the read dispatch loop if input is buffered.
func (t *PeerIO) TryRead() {
	if sock := t.buffered.Load(); sock != nil && sock.Input().Len() > 0 {
		t.canRead()
	}
}

// canRead runs the read dispatch loop under the session lock: the callback is
// re-invoked while it returns ReadAgain and input remains, and stops the
// moment the callback slots are cleared by Close.
func (t *PeerIO) canRead() {
	t.session.Lock()
	defer t.session.Unlock()

	for {
		funcs := t.funcs.Load()
		if funcs == nil || funcs.read == nil {
			return
		}

		sock := t.buffered.Load()
		if sock == nil {
			return
		}

		switch funcs.read(sock.Input(), funcs.user) {
		case ReadAgain:
			if sock.Input().Len() > 0 {
				continue
			}
			return
		default: // ReadMore, ReadDone
			return
		}
	}
}

func (t *PeerIO) didWrite() {
	if funcs := t.funcs.Load(); funcs != nil && funcs.wrote != nil {
		funcs.wrote(funcs.user)
	}
}

func (t *PeerIO) gotError(what bufev.What) {
	if funcs := t.funcs.Load(); funcs != nil && funcs.failed != nil {
		funcs.failed(what, funcs.user)
	}
}

// Reconnect closes the current socket and opens a fresh connection to the
// same peer, reinstalling the watermark and timeout. the cipher pair,
// counters, and capability flags are preserved; callers that need a fresh
// encryption handshake construct a new PeerIO. outgoing connections only.
func (t *PeerIO) Reconnect() error {
	if t.incoming {
		return ErrReconnectIncoming
	}

	if t.closed.IsSet() {
		return ErrClosed
	}

	if old := t.buffered.Load(); old != nil {
		old.Close()
	}

	conn, err := t.session.dial(t.remote)
	if err != nil {
		return err
	}

	t.session.debug().Printf("io(%p) reconnected %s\n", t, t.remote)
	t.attach(conn)

	return nil
}

// SetTimeout replaces the inactivity timeout for both directions and ensures
// reads and writes are enabled.
func (t *PeerIO) SetTimeout(d time.Duration) {
	t.timeout.Store(d)
	if sock := t.buffered.Load(); sock != nil {
		sock.SetTimeout(d)
	}
}

// Close is safe to invoke from any thread: the callback slots are cleared
// synchronously so in flight dispatches find no-ops, and the actual teardown
// runs on the event loop so it cannot race a callback. idempotent.
func (t *PeerIO) Close() {
	if !t.closed.Set() {
		return
	}

	t.funcs.Store(nil)

	sock := t.buffered.Load()
	t.session.Do(func() {
		if sock != nil {
			sock.Close()
		}
		t.session.debug().Printf("io(%p) torn down %s\n", t, t.remote)
	})
}

// Session the session this connection belongs to.
func (t *PeerIO) Session() *Session {
	return t.session
}

// Incoming reports whether the remote initiated the connection.
func (t *PeerIO) Incoming() bool {
	return t.incoming
}

// Addr the remote peer's address.
func (t *PeerIO) Addr() netip.AddrPort {
	return t.remote
}

// AddrString the remote address formatted "<dotted-quad>:<port>".
func (t *PeerIO) AddrString() string {
	return t.remote.String()
}

// Age elapsed since construction; survives reconnects.
func (t *PeerIO) Age() time.Duration {
	return time.Since(t.created)
}

// BytesFromPeer cumulative raw bytes drained from the remote, counted at the
// input buffer regardless of encryption mode.
func (t *PeerIO) BytesFromPeer() int64 {
	return t.fromPeer.Load()
}

// WriteBytesWaiting bytes queued for the wire but not yet written.
func (t *PeerIO) WriteBytesWaiting() int {
	if sock := t.buffered.Load(); sock != nil {
		return sock.OutputLen()
	}

	return 0
}

// SetEncryption switches the mode applied to all subsequent reads and
// writes.
func (t *PeerIO) SetEncryption(mode EncryptionMode) {
	t.mode.Store(uint32(mode))
}

// Encrypted reports whether the stream cipher is active.
func (t *PeerIO) Encrypted() bool {
	return EncryptionMode(t.mode.Load()) == EncryptionRC4
}

// SetTorrentHash binds the cipher pair to the swarm, once the handshake
// identifies it.
func (t *PeerIO) SetTorrentHash(hash [mse.HashSize]byte) {
	t.crypto.SetTorrentHash(hash)
}

func (t *PeerIO) TorrentHash() [mse.HashSize]byte {
	return t.crypto.TorrentHash()
}

func (t *PeerIO) HasTorrentHash() bool {
	return t.crypto.HasTorrentHash()
}

// SetPeerID records the remote's identifier, nil clears it.
func (t *PeerIO) SetPeerID(id *[PeerIDSize]byte) {
	if id == nil {
		t.peerid.Store(nil)
		return
	}

	dup := *id
	t.peerid.Store(&dup)
}

// PeerID the remote's identifier, false until the handshake sets it.
func (t *PeerIO) PeerID() ([PeerIDSize]byte, bool) {
	id := t.peerid.Load()
	return langx.Autoderef(id), id != nil
}

// EnableLTEP records whether the remote supports the extension protocol.
func (t *PeerIO) EnableLTEP(enabled bool) {
	t.ltep.Store(enabled)
}

func (t *PeerIO) SupportsLTEP() bool {
	return t.ltep.Load()
}

// EnableFEXT records whether the remote supports the fast peers extension.
func (t *PeerIO) EnableFEXT(enabled bool) {
	t.fext.Store(enabled)
}

func (t *PeerIO) SupportsFEXT() bool {
	return t.fext.Load()
}
