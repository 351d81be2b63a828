// Package endpoint resolves a parsed channel URI (internal/chanuri) into
// a bound transport: a UDP socket joined to its multicast group if the
// endpoint address calls for one, or a plain unicast destination address
// for a send-only endpoint. This is where the Conductor binds sockets of
// internal/transport/udp (it also uses that package directly for MDC
// destination tracking) — the Sender and Receiver agents
// never resolve a channel URI themselves, they are only ever handed an
// already-open driver.Transport.
package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/flowdriver/flowdriver/internal/chanuri"
	"github.com/flowdriver/flowdriver/internal/transport/udp"
)

// Endpoint is one bound channel socket plus everything the Conductor
// derived from its URI to use it: the resolved destination for outbound
// traffic, and whether the socket is joined to a multicast group.
type Endpoint struct {
	URI         chanuri.URI
	Socket      *udp.Socket
	Destination netip.AddrPort
	Multicast   bool
}

// SocketConfig carries the buffer-sizing and multicast tunables Open
// passes through to udp.Bind.
type SocketConfig = udp.Config

// ResolveAddress parses a channel URI's endpoint (or control, for MDC
// manual-mode destinations) parameter into a netip.AddrPort, falling
// back to net.LookupIP when it names a hostname rather than a literal
// address.
func ResolveAddress(hostport string) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddrPort(hostport); err == nil {
		return addr, nil
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("endpoint: malformed address %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("endpoint: malformed port in %q: %w", hostport, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("endpoint: resolve %q: %w", host, err)
	}
	addr, ok := netip.AddrFromSlice(ips[0].To4())
	if !ok {
		addr, ok = netip.AddrFromSlice(ips[0].To16())
		if !ok {
			return netip.AddrPort{}, fmt.Errorf("endpoint: unresolvable address %q", hostport)
		}
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// Open binds a socket for u and resolves its destination/multicast
// group. For a udp media channel the endpoint parameter supplies both
// the bind address (for receive) and the destination (for send). Open
// does not read control-mode: every channel, manual MDC included, must
// carry an endpoint parameter, which Open always resolves as the
// destination; it returns an error when the parameter is missing.
func Open(u chanuri.URI, cfg SocketConfig) (*Endpoint, error) {
	if u.Media != chanuri.MediaUDP {
		return nil, fmt.Errorf("endpoint: %s media has no socket to open", u.Media)
	}
	endpointParam, ok := u.Get(chanuri.KeyEndpoint)
	if !ok {
		return nil, fmt.Errorf("endpoint: channel %q has no endpoint parameter", u.Raw)
	}
	dest, err := ResolveAddress(endpointParam)
	if err != nil {
		return nil, err
	}

	multicast := u.IsMulticast()
	bindAddr := dest
	if !multicast {
		// Unicast receive sockets bind the wildcard address on the
		// endpoint's port so both ends of the same channel URI (send and
		// receive) can coexist without a bind conflict; the destination
		// itself is still dest.
		bindAddr = netip.AddrPortFrom(netip.IPv4Unspecified(), dest.Port())
	}

	sock, err := udp.Bind(bindAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("endpoint: bind channel %q: %w", u.Raw, err)
	}

	if multicast {
		iface := u.GetDefault(chanuri.KeyInterface, "")
		if err := sock.JoinMulticastGroup(dest.Addr(), iface); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("endpoint: join multicast group for channel %q: %w", u.Raw, err)
		}
	}

	return &Endpoint{URI: u, Socket: sock, Destination: dest, Multicast: multicast}, nil
}

// Close releases the underlying socket, leaving any joined multicast
// group first.
func (e *Endpoint) Close() error {
	if e.Multicast {
		iface := e.URI.GetDefault(chanuri.KeyInterface, "")
		_ = e.Socket.LeaveMulticastGroup(e.Destination.Addr(), iface)
	}
	return e.Socket.Close()
}
