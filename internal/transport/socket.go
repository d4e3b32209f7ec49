// internal/transport/socket.go
package transport

import (
	"errors"
	"time"

	"github.com/tamzrod/secmesh/internal/protocol"
)

var (
	// ErrNoPacket means Receive timed out with nothing queued.
	ErrNoPacket = errors.New("transport: no packet")
	// ErrClosed is returned by a socket after Close.
	ErrClosed = errors.New("transport: socket closed")
)

// Datagram is one inbound packet and its sender.
type Datagram struct {
	From protocol.Node
	Data []byte
}

// Socket abstracts the broadcast/unicast link.
// The dispatcher owns it exclusively.
type Socket interface {
	// Send transmits one datagram. Success is link-level only.
	Send(to protocol.Node, data []byte) error

	// Receive waits up to timeout for one datagram.
	// A timeout <= 0 polls without blocking.
	Receive(timeout time.Duration) (Datagram, error)

	Close() error
}
