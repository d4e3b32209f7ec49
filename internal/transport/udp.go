// internal/transport/udp.go
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// UDPConfig describes the mesh link of one node.
type UDPConfig struct {
	Group       protocol.Node // multicast group to join
	UnicastPort uint16        // local port used for sending and direct replies
	Interface   string        // optional interface name for the multicast join
	QueueDepth  int           // receive queue depth; overflow drops the newest packet
}

const defaultQueueDepth = 32

// UDPSocket joins the multicast group and owns a unicast socket.
// Outbound traffic leaves from the unicast socket, so replies (acks)
// come back to it. Both sockets feed one bounded receive queue.
type UDPSocket struct {
	mcast   *net.UDPConn
	ucast   *net.UDPConn
	queue   chan Datagram
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  *log.Logger
	overrun atomic.Uint64
}

// ListenUDP opens the multicast listener and the unicast socket.
func ListenUDP(cfg UDPConfig, logger *log.Logger) (*UDPSocket, error) {
	if !cfg.Group.IsValid() {
		return nil, errors.New("transport: multicast group required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		i, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("transport: interface %q: %w", cfg.Interface, err)
		}
		ifi = i
	}

	mc, err := net.ListenMulticastUDP("udp4", ifi, cfg.Group.UDPAddr())
	if err != nil {
		return nil, fmt.Errorf("transport: join %s: %w", cfg.Group, err)
	}

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(cfg.UnicastPort)})
	if err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("transport: listen unicast :%d: %w", cfg.UnicastPort, err)
	}

	s := &UDPSocket{
		mcast:  mc,
		ucast:  uc,
		queue:  make(chan Datagram, cfg.QueueDepth),
		closed: make(chan struct{}),
		logger: logger,
	}

	s.wg.Add(2)
	go s.readLoop(mc)
	go s.readLoop(uc)

	logger.Printf("transport: joined %s, unicast %s", cfg.Group, uc.LocalAddr())
	return s, nil
}

func (s *UDPSocket) readLoop(conn *net.UDPConn) {
	defer s.wg.Done()

	// One extra byte so oversized frames are visible to the dispatcher.
	buf := make([]byte, protocol.MaxFrameSize+1)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Printf("transport: read failed: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.queue <- Datagram{From: protocol.NodeFromUDPAddr(from), Data: data}:
		default:
			if s.overrun.Add(1)%100 == 1 {
				s.logger.Printf("transport: receive queue full, dropping packets (dropped=%d)", s.overrun.Load())
			}
		}
	}
}

func (s *UDPSocket) Send(to protocol.Node, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	_, err := s.ucast.WriteToUDP(data, to.UDPAddr())
	return err
}

func (s *UDPSocket) Receive(timeout time.Duration) (Datagram, error) {
	if timeout <= 0 {
		select {
		case dg := <-s.queue:
			return dg, nil
		case <-s.closed:
			return Datagram{}, ErrClosed
		default:
			return Datagram{}, ErrNoPacket
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case dg := <-s.queue:
		return dg, nil
	case <-s.closed:
		return Datagram{}, ErrClosed
	case <-t.C:
		return Datagram{}, ErrNoPacket
	}
}

// LocalNode returns the unicast address peers see as our sender.
func (s *UDPSocket) LocalNode() protocol.Node {
	return protocol.NodeFromUDPAddr(s.ucast.LocalAddr().(*net.UDPAddr))
}

func (s *UDPSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = errors.Join(s.mcast.Close(), s.ucast.Close())
		s.wg.Wait()
	})
	return err
}
