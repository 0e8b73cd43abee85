package peerio

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/james-lawrence/peerio/bufev"
	"github.com/james-lawrence/peerio/internal/bytesx"
)

func listen(t *testing.T) (net.Listener, netip.AddrPort) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l, l.Addr().(*net.TCPAddr).AddrPort()
}

func accept(t *testing.T, l net.Listener) net.Conn {
	conn, err := l.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestOutgoingHandshakeByteParity(t *testing.T) {
	var (
		s         = testsession(t)
		l, remote = listen(t)
		h         = testhash()
		peerid    = [PeerIDSize]byte{'-', 'T', 'R', '2', '9', '4', '0', '-', 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	)

	out, err := NewOutgoing(s, remote, h)
	require.NoError(t, err)
	t.Cleanup(out.Close)
	require.False(t, out.Incoming())

	server := accept(t, l)

	var handshake []byte
	handshake = append(handshake, 0x13)
	handshake = append(handshake, []byte("BitTorrent protocol")...)
	handshake = append(handshake, make([]byte, 8)...)
	handshake = append(handshake, h[:]...)
	handshake = append(handshake, peerid[:]...)
	require.Len(t, handshake, 68)

	buf := bufev.NewBuffer()
	out.WriteBytes(buf, handshake)
	inloop(s, func() { out.WriteBuf(buf) })
	require.Equal(t, 0, buf.Len())

	received := make([]byte, 68)
	_, err = io.ReadFull(server, received)
	require.NoError(t, err)
	require.Equal(t, handshake, received)
}

func TestEncryptedRoundTripOverSocket(t *testing.T) {
	var (
		s         = testsession(t)
		l, remote = listen(t)
		h         = testhash()
		values    = make(chan uint32, 1)
	)

	a, err := NewOutgoing(s, remote, h)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	b := NewIncoming(s, accept(t, l), remote)
	t.Cleanup(b.Close)
	b.SetTorrentHash(h)

	a.SetEncryption(EncryptionRC4)
	b.SetEncryption(EncryptionRC4)

	b.SetIOFuncs(func(in *bufev.Buffer, user any) ReadResult {
		if in.Len() < 4 {
			return ReadMore
		}

		values <- b.ReadUint32(in)
		return ReadDone
	}, nil, nil, nil)

	staged := bufev.NewBuffer()
	a.WriteUint32(staged, 0xdeadbeef)
	inloop(s, func() { a.WriteBuf(staged) })

	select {
	case v := <-values:
		require.Equal(t, uint32(0xdeadbeef), v)
	case <-time.After(time.Second):
		t.Fatal("value never arrived")
	}

	// and the reverse direction over the same pair.
	a.SetIOFuncs(func(in *bufev.Buffer, user any) ReadResult {
		if in.Len() < 4 {
			return ReadMore
		}

		values <- a.ReadUint32(in)
		return ReadDone
	}, nil, nil, nil)

	staged = bufev.NewBuffer()
	b.WriteUint32(staged, 0xcafebabe)
	inloop(s, func() { b.WriteBuf(staged) })

	select {
	case v := <-values:
		require.Equal(t, uint32(0xcafebabe), v)
	case <-time.After(time.Second):
		t.Fatal("reply never arrived")
	}
}

func TestWatermarkBoundsInput(t *testing.T) {
	var (
		s         = testsession(t)
		l, remote = listen(t)
		h         = testhash()
	)

	a, err := NewOutgoing(s, remote, h)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	server := accept(t, l)

	a.SetIOFuncs(func(in *bufev.Buffer, user any) ReadResult {
		return ReadDone
	}, nil, nil, nil)

	go func() {
		payload := make([]byte, bytesx.MiB)
		server.Write(payload)
	}()

	require.Eventually(t, func() bool {
		return a.buffered.Load().Input().Len() > 0
	}, time.Second, time.Millisecond)

	// the input buffer stays bounded by the high watermark; the remainder
	// queues at the socket layer.
	for i := 0; i < 100; i++ {
		require.LessOrEqual(t, a.buffered.Load().Input().Len(), readWatermark)
		time.Sleep(time.Millisecond)
	}
}

func TestTimeoutPath(t *testing.T) {
	var (
		s      = testsession(t)
		pio, _ = incomingpipe(t, s)
		failed = make(chan bufev.What, 4)
		other  = make(chan string, 4)
	)

	pio.SetIOFuncs(func(in *bufev.Buffer, user any) ReadResult {
		other <- "read"
		return ReadDone
	}, func(user any) {
		other <- "wrote"
	}, func(what bufev.What, user any) {
		failed <- what
	}, nil)

	pio.SetTimeout(100 * time.Millisecond)

	select {
	case what := <-failed:
		require.True(t, what.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	select {
	case <-failed:
		t.Fatal("timeout fired more than once")
	case name := <-other:
		t.Fatalf("callback %s fired during an idle timeout", name)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReconnectPreservesState(t *testing.T) {
	var (
		s         = testsession(t)
		l, remote = listen(t)
		h         = testhash()
	)

	a, err := NewOutgoing(s, remote, h)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	server := accept(t, l)

	payload := make([]byte, 1000)
	_, err = server.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.buffered.Load().Input().Len() == 1000
	}, time.Second, time.Millisecond)

	a.ReadBytes(a.buffered.Load().Input(), make([]byte, 1000))
	require.Equal(t, int64(1000), a.BytesFromPeer())

	a.EnableLTEP(true)
	a.EnableFEXT(true)
	a.SetEncryption(EncryptionRC4)
	age := a.Age()

	require.NoError(t, a.Reconnect())
	accept(t, l)

	require.Equal(t, int64(1000), a.BytesFromPeer())
	require.GreaterOrEqual(t, a.Age(), age)
	require.True(t, a.SupportsLTEP())
	require.True(t, a.SupportsFEXT())
	require.True(t, a.Encrypted())
	require.Equal(t, h, a.TorrentHash())

	// the old socket is gone.
	_, err = server.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestReconnectRefusedForIncoming(t *testing.T) {
	var (
		s      = testsession(t)
		pio, _ = incomingpipe(t, s)
	)

	require.ErrorIs(t, pio.Reconnect(), ErrReconnectIncoming)
}

func TestReconnectRefusedAfterClose(t *testing.T) {
	var (
		s         = testsession(t)
		l, remote = listen(t)
	)

	a, err := NewOutgoing(s, remote, testhash())
	require.NoError(t, err)
	accept(t, l)

	a.Close()
	require.ErrorIs(t, a.Reconnect(), ErrClosed)
}

func TestOutgoingConnectFailure(t *testing.T) {
	var s = testsession(t)

	// grab a port and close it so the connect is refused.
	l, remote := listen(t)
	l.Close()

	_, err := NewOutgoing(s, remote, testhash())
	require.Error(t, err)
}

func TestErrorCallbackOnEOF(t *testing.T) {
	var (
		s           = testsession(t)
		pio, remote = incomingpipe(t, s)
		failed      = make(chan bufev.What, 1)
	)

	pio.SetIOFuncs(nil, nil, func(what bufev.What, user any) {
		select {
		case failed <- what:
		default:
		}
	}, nil)

	remote.Close()

	select {
	case what := <-failed:
		require.True(t, what.EOF())
	case <-time.After(time.Second):
		t.Fatal("eof never surfaced")
	}
}

func TestDownloadRateLimit(t *testing.T) {
	var (
		s           = testsession(t, OptionDownloadRateLimit(rate.NewLimiter(rate.Limit(bytesx.KiB), bytesx.KiB)))
		pio, remote = incomingpipe(t, s)
	)

	go func() {
		payload := make([]byte, 16*bytesx.KiB)
		remote.Write(payload)
	}()

	time.Sleep(300 * time.Millisecond)
	// a 1KiB/s limiter with 1KiB burst cannot have pulled more than a few
	// KiB this quickly.
	require.Less(t, int(pio.BytesFromPeer())+pio.buffered.Load().Input().Len(), 4*bytesx.KiB)
}
