package udp

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func sockaddrFor(addr netip.AddrPort) (unix.Sockaddr, error) {
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		var sa unix.SockaddrInet4
		sa.Port = int(addr.Port())
		sa.Addr = addr.Addr().As4()
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = int(addr.Port())
	sa.Addr = addr.Addr().As16()
	return &sa, nil
}

func addrPortFromSockaddr(sa unix.Sockaddr, fallback netip.AddrPort) netip.AddrPort {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), uint16(s.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(s.Addr), uint16(s.Port))
	default:
		return fallback
	}
}

func fdFile(fd int) *os.File {
	return os.NewFile(uintptr(fd), "udp-socket")
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("udp: resolving interface %q: %w", name, err)
	}
	return ifi, nil
}

// joinGroup issues IP_ADD_MEMBERSHIP (IPv4) or IPV6_JOIN_GROUP (IPv6) on
// conn's underlying file descriptor.
func joinGroup(conn *net.UDPConn, group netip.Addr, ifi *net.Interface) error {
	return withRawFd(conn, func(fd int) error {
		if group.Is4() || group.Is4In6() {
			mreq := &unix.IPMreq{Multiaddr: group.As4()}
			if ifi != nil {
				if addr := firstIPv4(ifi); addr != nil {
					mreq.Interface = [4]byte(addr.To4())
				}
			}
			return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
		}
		mreq := &unix.IPv6Mreq{Multiaddr: group.As16()}
		if ifi != nil {
			mreq.Interface = uint32(ifi.Index)
		}
		return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
	})
}

// leaveGroup issues IP_DROP_MEMBERSHIP / IPV6_LEAVE_GROUP.
func leaveGroup(conn *net.UDPConn, group netip.Addr, ifi *net.Interface) error {
	return withRawFd(conn, func(fd int) error {
		if group.Is4() || group.Is4In6() {
			mreq := &unix.IPMreq{Multiaddr: group.As4()}
			if ifi != nil {
				if addr := firstIPv4(ifi); addr != nil {
					mreq.Interface = [4]byte(addr.To4())
				}
			}
			return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
		}
		mreq := &unix.IPv6Mreq{Multiaddr: group.As16()}
		if ifi != nil {
			mreq.Interface = uint32(ifi.Index)
		}
		return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_LEAVE_GROUP, mreq)
	})
}

func withRawFd(conn *net.UDPConn, fn func(fd int) error) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	})
	if err != nil {
		return err
	}
	return opErr
}

func firstIPv4(ifi *net.Interface) net.IP {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
			return ipn.IP
		}
	}
	return nil
}
