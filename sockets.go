package peerio

import (
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/james-lawrence/peerio/internal/errorsx"
)

const dialTimeout = 30 * time.Second

// dial opens a TCP connection to the peer and applies the session's socket
// ToS byte.
func (t *Session) dial(remote netip.AddrPort) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", remote.String(), dialTimeout)
	if err != nil {
		return nil, errorsx.Wrapf(err, "connect failed %s", remote)
	}

	t.setTOS(conn, remote)

	return conn, nil
}

// setTOS applies the ToS byte: IP_TOS for ipv4, the traffic class for ipv6.
// failures are logged, never fatal.
func (t *Session) setTOS(conn net.Conn, remote netip.AddrPort) {
	if t.socketTOS == 0 {
		return
	}

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if remote.Addr().Unmap().Is6() {
		if err := ipv6.NewConn(tc).SetTrafficClass(t.socketTOS); err != nil {
			t.debug().Println(errorsx.Wrapf(err, "unable to set traffic class %s", remote))
		}
		return
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		t.debug().Println(errorsx.Wrap(err, "unable to access raw socket"))
		return
	}

	var serr error
	if err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, t.socketTOS)
	}); err != nil {
		serr = err
	}

	if serr != nil {
		t.debug().Println(errorsx.Wrapf(serr, "unable to set tos %s", remote))
	}
}
