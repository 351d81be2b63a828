// Package udp implements the driver's default UDP transport: channel
// socket lifecycle, multicast group membership, a readiness-driven poller
// multiplexing many sockets on one agent thread, and the destination
// tracker used by manual-control-mode multi-destination-cast channels.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket wraps a non-blocking UDP socket with the options the driver
// needs: SO_REUSEPORT (several receive endpoints on the same port across
// processes), large send/receive buffers, and multicast group join/leave,
// mirroring the raw-syscall socket setup the teacher performs for its
// AF_XDP interfaces in afxdp/afxdp.go — the same non-blocking,
// option-tuned-at-creation discipline applied to a plain UDP socket.
type Socket struct {
	fd   int
	conn *net.UDPConn
	addr netip.AddrPort
}

// Config controls socket buffer sizing and multicast behaviour.
type Config struct {
	ReceiveBufferBytes int
	SendBufferBytes    int
	MulticastTTL       int
	MulticastInterface string
}

// Bind creates a non-blocking UDP socket bound to addr (use port 0 for an
// ephemeral send-only socket), applying cfg's buffer sizes and enabling
// SO_REUSEPORT so multiple driver instances (or multiple receive
// endpoints within one driver, for MDC) can share a port.
func Bind(addr netip.AddrPort, cfg Config) (*Socket, error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("udp: socket: %w", err)
	}
	s := &Socket{fd: fd}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		s.closeRaw()
		return nil, fmt.Errorf("udp: SO_REUSEADDR: %w", err)
	}
	if err := setReusePort(fd); err != nil {
		s.closeRaw()
		return nil, fmt.Errorf("udp: SO_REUSEPORT: %w", err)
	}
	if cfg.ReceiveBufferBytes > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBufferBytes)
	}
	if cfg.SendBufferBytes > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferBytes)
	}
	if cfg.MulticastTTL > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, cfg.MulticastTTL)
	}

	sa, err := sockaddrFor(addr)
	if err != nil {
		s.closeRaw()
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		s.closeRaw()
		return nil, fmt.Errorf("udp: bind %s: %w", addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		s.closeRaw()
		return nil, fmt.Errorf("udp: getsockname: %w", err)
	}
	s.addr = addrPortFromSockaddr(bound, addr)

	f := fdFile(fd)
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		s.closeRaw()
		return nil, fmt.Errorf("udp: FileConn: %w", err)
	}
	s.conn = conn.(*net.UDPConn)
	// net.FileConn works on a duplicate of fd, and f.Close above closed fd
	// itself; keep the descriptor the connection actually owns.
	if raw, err := s.conn.SyscallConn(); err == nil {
		_ = raw.Control(func(dup uintptr) { s.fd = int(dup) })
	}

	return s, nil
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() netip.AddrPort { return s.addr }

// Fd returns the raw file descriptor, used by the Poller to register
// readiness interest.
func (s *Socket) Fd() int { return s.fd }

// JoinMulticastGroup joins group on the named interface (or the default
// interface if iface is empty).
func (s *Socket) JoinMulticastGroup(group netip.Addr, iface string) error {
	ifi, err := resolveInterface(iface)
	if err != nil {
		return err
	}
	return joinGroup(s.conn, group, ifi)
}

// LeaveMulticastGroup leaves a previously joined multicast group.
func (s *Socket) LeaveMulticastGroup(group netip.Addr, iface string) error {
	ifi, err := resolveInterface(iface)
	if err != nil {
		return err
	}
	return leaveGroup(s.conn, group, ifi)
}

// SendTo writes one datagram to dest through the net.UDPConn. While the
// kernel send buffer is full it waits for room rather than returning
// EAGAIN; after Close it returns an error wrapping net.ErrClosed.
func (s *Socket) SendTo(payload []byte, dest netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(payload, dest)
}

// ReceiveFrom reads one datagram into buf, returning the number of bytes
// read and the sender's address. It reads the non-blocking descriptor
// directly and returns unix.EAGAIN when nothing is pending; the
// Poller is expected to have already indicated readiness before this is
// called, so the common path succeeds.
func (s *Socket) ReceiveFrom(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addrPortFromSockaddr(from, netip.AddrPort{}), nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return s.closeRaw()
}

func (s *Socket) closeRaw() error {
	if s.fd <= 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

var errUnsupportedFamily = errors.New("udp: unsupported address family")
