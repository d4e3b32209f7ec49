// internal/dedup/cache.go
package dedup

import (
	"sync"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// DefaultCapacity matches the firmware nodes on the mesh.
const DefaultCapacity = 10

// Entry is one remembered (sender, message id) identity.
type Entry struct {
	Sender    protocol.Node
	MessageID uint16
}

// Cache is a fixed-capacity ring of recently seen message identities.
// When full, the oldest slot is overwritten regardless of use.
// Only the most recent Capacity() identities are guarded; an older
// duplicate is admitted again.
type Cache struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	count   int
}

// New creates a cache. If capacity <= 0, DefaultCapacity is used.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{entries: make([]Entry, capacity)}
}

// Validate reports whether (sender, id) was already seen.
// true: duplicate, the caller should discard the message.
// false: novel, the pair is now remembered and the caller should process it.
func (c *Cache) Validate(sender protocol.Node, id uint16) bool {
	e := Entry{Sender: sender, MessageID: id}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < c.count; i++ {
		if c.entries[i] == e {
			return true
		}
	}

	c.entries[c.next] = e
	c.next = (c.next + 1) % len(c.entries)
	if c.count < len(c.entries) {
		c.count++
	}
	return false
}

// Len returns the number of occupied slots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Capacity returns the fixed slot count.
func (c *Cache) Capacity() int { return len(c.entries) }
