// internal/transport/transporttest/hub.go
package transporttest

import (
	"sync"
	"time"

	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/transport"
)

// Hub is an in-memory broadcast domain. Frames sent to the group reach
// every member (sender included, like multicast loopback); frames sent
// to a member's node reach that member only.
type Hub struct {
	mu      sync.Mutex
	group   protocol.Node
	members map[protocol.Node]*HubSocket
}

func NewHub(group protocol.Node) *Hub {
	return &Hub{group: group, members: make(map[protocol.Node]*HubSocket)}
}

// Join attaches a socket with the given unicast address.
func (h *Hub) Join(self protocol.Node) *HubSocket {
	s := &HubSocket{
		hub:   h,
		self:  self,
		queue: make(chan transport.Datagram, 64),
	}
	h.mu.Lock()
	h.members[self] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) route(from protocol.Node, to protocol.Node, data []byte) {
	h.mu.Lock()
	var targets []*HubSocket
	if to == h.group {
		for _, m := range h.members {
			targets = append(targets, m)
		}
	} else if m, ok := h.members[to]; ok {
		targets = append(targets, m)
	}
	h.mu.Unlock()

	for _, m := range targets {
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case m.queue <- transport.Datagram{From: from, Data: cp}:
		default: // lossy like a real receive buffer
		}
	}
}

// HubSocket is one member's view of the hub.
type HubSocket struct {
	hub   *Hub
	self  protocol.Node
	queue chan transport.Datagram
}

func (s *HubSocket) Send(to protocol.Node, data []byte) error {
	s.hub.route(s.self, to, data)
	return nil
}

func (s *HubSocket) Receive(timeout time.Duration) (transport.Datagram, error) {
	if timeout <= 0 {
		select {
		case dg := <-s.queue:
			return dg, nil
		default:
			return transport.Datagram{}, transport.ErrNoPacket
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case dg := <-s.queue:
		return dg, nil
	case <-t.C:
		return transport.Datagram{}, transport.ErrNoPacket
	}
}

func (s *HubSocket) Close() error {
	s.hub.mu.Lock()
	delete(s.hub.members, s.self)
	s.hub.mu.Unlock()
	return nil
}

// Node returns the member's unicast address.
func (s *HubSocket) Node() protocol.Node { return s.self }
