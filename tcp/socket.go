// Package tcp implements the TCP-facing components of spec.md §4.5-§4.9:
// Acceptor, Connector, Connection (TcpConnection), Server (TcpServer) and
// Client (TcpClient).
package tcp

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/driftnet/reactor/netaddr"
)

// socket is a thin owning wrapper around one file descriptor, matching
// original_source/src/net/include/Socket.h: exactly one owner is
// responsible for closing the fd, and every option toggle hangs off this
// type rather than being a free function.
type socket struct {
	fd int
}

func newSocket(fd int) *socket { return &socket{fd: fd} }

func (s *socket) Fd() int { return s.fd }

func (s *socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func (s *socket) SetReuseAddr(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

func (s *socket) SetReusePort(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

func (s *socket) SetKeepAlive(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

func (s *socket) SetTCPNoDelay(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

func (s *socket) BindListen(addr netaddr.InetAddress, reusePort bool) error {
	if err := s.SetReuseAddr(true); err != nil {
		return err
	}
	if reusePort {
		if err := s.SetReusePort(true); err != nil {
			return err
		}
	}
	sa := sockaddrFor(addr)
	if err := unix.Bind(s.fd, sa); err != nil {
		return err
	}
	return unix.Listen(s.fd, unix.SOMAXCONN)
}

// Accept4 accepts one connection, returning the accepted fd and the peer's
// address.
func (s *socket) Accept4(flags int) (int, netaddr.InetAddress, error) {
	nfd, sa, err := unix.Accept4(s.fd, flags)
	if err != nil {
		return -1, netaddr.InetAddress{}, err
	}
	return nfd, addrFromSockaddr(sa), nil
}

// GetSockError reads SO_ERROR, the non-blocking connect(2) completion
// status.
func (s *socket) GetSockError() (int, error) {
	return unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
}

func (s *socket) LocalAddr() (netaddr.InetAddress, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netaddr.InetAddress{}, err
	}
	return addrFromSockaddr(sa), nil
}

func (s *socket) PeerAddr() (netaddr.InetAddress, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netaddr.InetAddress{}, err
	}
	return addrFromSockaddr(sa), nil
}

// ShutdownWrite half-closes the write side of the connection, per
// spec.md's "shutdown write" external interface.
func (s *socket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newNonBlockingSocket creates a non-blocking, close-on-exec TCP socket for
// the given address family.
func newNonBlockingSocket(ipv6 bool) (*socket, error) {
	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	return newSocket(fd), nil
}

func sockaddrFor(addr netaddr.InetAddress) unix.Sockaddr {
	ap := addr.AddrPort()
	if addr.IsIPv6() {
		return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
	}
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func addrFromSockaddr(sa unix.Sockaddr) netaddr.InetAddress {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netaddr.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)))
	case *unix.SockaddrInet6:
		return netaddr.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)))
	default:
		return netaddr.InetAddress{}
	}
}
