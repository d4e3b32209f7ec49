// internal/protocol/node.go
package protocol

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Node is the (IP, UDP port) address of a mesh participant.
// Two Nodes are equal iff both fields match, so Node is usable as a map key.
type Node struct {
	Addr netip.Addr
	Port uint16
}

// MulticastNode is the all-nodes broadcast target.
var MulticastNode = Node{
	Addr: netip.MustParseAddr(MulticastGroup),
	Port: MulticastPort,
}

func (n Node) String() string {
	return netip.AddrPortFrom(n.Addr, n.Port).String()
}

// IsValid reports whether the node carries a usable address.
func (n Node) IsValid() bool { return n.Addr.IsValid() && n.Port != 0 }

// UDPAddr converts the node for use with package net.
func (n Node) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(n.Addr, n.Port))
}

// NodeFromUDPAddr converts a net address into a Node.
// IPv4-mapped IPv6 addresses are unmapped so equality holds across sockets.
func NodeFromUDPAddr(a *net.UDPAddr) Node {
	if a == nil {
		return Node{}
	}
	ap := a.AddrPort()
	return Node{Addr: ap.Addr().Unmap(), Port: ap.Port()}
}

// ParseNode parses "ip:port". A bare IP gets defaultPort.
func ParseNode(s string, defaultPort uint16) (Node, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return Node{Addr: ap.Addr().Unmap(), Port: ap.Port()}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		host, port, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			return Node{}, fmt.Errorf("protocol: invalid node %q: %w", s, err)
		}
		p, convErr := strconv.ParseUint(port, 10, 16)
		if convErr != nil {
			return Node{}, fmt.Errorf("protocol: invalid node port %q: %w", s, convErr)
		}
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return Node{}, fmt.Errorf("protocol: cannot resolve %q", host)
		}
		ip, _ := netip.AddrFromSlice(ips[0])
		return Node{Addr: ip.Unmap(), Port: uint16(p)}, nil
	}
	return Node{Addr: addr.Unmap(), Port: defaultPort}, nil
}
