// Package netaddr implements the InetAddress value type named in spec.md
// §6: a union of IPv4/IPv6 socket addresses with formatting and resolution
// helpers, grounded on original_source/src/net/src/InetAddress.cc.
package netaddr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// InetAddress holds an IPv4 or IPv6 endpoint.
type InetAddress struct {
	addr netip.Addr
	port uint16
}

// New constructs an InetAddress from an IP and a host-order port. The
// ipv6 flag only matters when ip is empty, in which case it selects the
// wildcard address family to bind on.
func New(ip string, port uint16, ipv6 bool) (InetAddress, error) {
	if ip == "" {
		if ipv6 {
			return InetAddress{addr: netip.IPv6Unspecified(), port: port}, nil
		}
		return InetAddress{addr: netip.IPv4Unspecified(), port: port}, nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return InetAddress{}, fmt.Errorf("netaddr: invalid address %q: %w", ip, err)
	}
	return InetAddress{addr: addr, port: port}, nil
}

// FromAddrPort wraps a netip.AddrPort as an InetAddress, as produced by
// accept(2)/getsockname(2) style calls.
func FromAddrPort(ap netip.AddrPort) InetAddress {
	return InetAddress{addr: ap.Addr(), port: ap.Port()}
}

// AddrPort returns the netip.AddrPort view of this address, for handing to
// socket syscalls.
func (a InetAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.addr, a.port)
}

// IsIPv6 reports whether this address is an IPv6 address.
func (a InetAddress) IsIPv6() bool { return a.addr.Is6() && !a.addr.Is4In6() }

// Port returns the numeric port in host order.
func (a InetAddress) Port() uint16 { return a.port }

// ToIP returns the textual IP address, with no port or brackets.
func (a InetAddress) ToIP() string { return a.addr.String() }

// ToIPPort returns "ip:port", bracketing the IP when it is IPv6, e.g.
// "[2001:db8::1]:8888".
func (a InetAddress) ToIPPort() string {
	if a.IsIPv6() {
		return fmt.Sprintf("[%s]:%d", a.addr.String(), a.port)
	}
	return fmt.Sprintf("%s:%d", a.addr.String(), a.port)
}

// Resolve performs a blocking hostname lookup via the standard resolver
// (the idiomatic Go substitute for the reentrant gethostbyname_r facility
// spec.md §6 names) and returns the first resolved InetAddress on success.
func Resolve(ctx context.Context, hostname string, port uint16) (InetAddress, bool) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", hostname)
	if err != nil || len(ips) == 0 {
		return InetAddress{}, false
	}
	addr, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return InetAddress{}, false
	}
	return InetAddress{addr: addr.Unmap(), port: port}, true
}

// String implements fmt.Stringer as ToIPPort, for convenient logging.
func (a InetAddress) String() string { return a.ToIPPort() }
