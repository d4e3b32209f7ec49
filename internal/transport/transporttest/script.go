// internal/transport/transporttest/script.go

// Package transporttest provides in-memory sockets for tests.
package transporttest

import (
	"sort"
	"sync"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/transport"
)

// Sent records one transmission.
type Sent struct {
	At   time.Time
	To   protocol.Node
	Data []byte
}

type scheduled struct {
	at time.Time
	dg transport.Datagram
}

// Script is a deterministic socket driven by a fake clock.
// Receive advances the clock to the next scheduled delivery or by the
// full timeout when nothing is due.
type Script struct {
	mu      sync.Mutex
	clock   *clock.Fake
	pending []scheduled
	sent    []Sent

	// OnSend, when set, runs after every transmission (e.g. to schedule a reply).
	OnSend func(s *Script, to protocol.Node, data []byte)
	// SendErr, when set, fails every Send.
	SendErr error
}

func NewScript(clk *clock.Fake) *Script {
	return &Script{clock: clk}
}

// Deliver schedules dg to arrive after d from now.
func (s *Script) Deliver(after time.Duration, dg transport.Datagram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, scheduled{at: s.clock.Now().Add(after), dg: dg})
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].at.Before(s.pending[j].at) })
}

// DeliverPayload schedules an encoded payload from a sender.
func (s *Script) DeliverPayload(after time.Duration, from protocol.Node, p protocol.Payload) {
	s.Deliver(after, transport.Datagram{From: from, Data: p.Encode()})
}

func (s *Script) Send(to protocol.Node, data []byte) error {
	s.mu.Lock()
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sent = append(s.sent, Sent{At: s.clock.Now(), To: to, Data: cp})
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(s, to, cp)
	}
	return nil
}

func (s *Script) Receive(timeout time.Duration) (transport.Datagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if len(s.pending) > 0 {
		next := s.pending[0]
		wait := next.at.Sub(now)
		if wait <= 0 || (timeout > 0 && wait <= timeout) {
			s.pending = s.pending[1:]
			s.clock.Advance(wait)
			return next.dg, nil
		}
	}
	s.clock.Advance(timeout)
	return transport.Datagram{}, transport.ErrNoPacket
}

func (s *Script) Close() error { return nil }

// Sent returns a copy of the transmission log.
func (s *Script) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
