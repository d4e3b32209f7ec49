// internal/transport/registry.go
package transport

import (
	"errors"
	"log"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// DefaultHandlerSlots matches the firmware nodes on the mesh.
const DefaultHandlerSlots = 10

// ErrRegistryFull is returned when no handler slot is left.
var ErrRegistryFull = errors.New("transport: handler registry full")

// HandlerFunc processes one raw inbound frame.
// Handlers run on the dispatcher's receive path and must not wait for acks.
type HandlerFunc func(from protocol.Node, data []byte)

// Handle identifies a registered handler.
type Handle int

type registration struct {
	cmd protocol.Command
	fn  HandlerFunc
}

// Registry maps command codes to handlers.
// Capacity is fixed; several handlers may share one code.
type Registry struct {
	slots  []registration
	logger *log.Logger
}

// NewRegistry creates a registry. If capacity <= 0, DefaultHandlerSlots is used.
func NewRegistry(capacity int, logger *log.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultHandlerSlots
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		slots:  make([]registration, 0, capacity),
		logger: logger,
	}
}

// Register installs fn for cmd.
// When full, the handler is NOT installed and ErrRegistryFull is returned.
func (r *Registry) Register(cmd protocol.Command, fn HandlerFunc) (Handle, error) {
	if fn == nil {
		return -1, errors.New("transport: nil handler")
	}
	if len(r.slots) == cap(r.slots) {
		r.logger.Printf("CRITICAL: handler registry full, %q not registered (slots=%d)", cmd, cap(r.slots))
		return -1, ErrRegistryFull
	}
	r.slots = append(r.slots, registration{cmd: cmd, fn: fn})
	return Handle(len(r.slots) - 1), nil
}

// Dispatch invokes every handler registered for cmd, in registration order.
// It returns the number of handlers invoked.
func (r *Registry) Dispatch(cmd protocol.Command, from protocol.Node, data []byte) int {
	n := 0
	for _, s := range r.slots {
		if s.cmd == cmd {
			s.fn(from, data)
			n++
		}
	}
	return n
}

// Len returns the number of installed handlers.
func (r *Registry) Len() int { return len(r.slots) }

// Capacity returns the fixed slot count.
func (r *Registry) Capacity() int { return cap(r.slots) }
