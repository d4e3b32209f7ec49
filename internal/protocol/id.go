// internal/protocol/id.go
package protocol

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// NewMessageID returns a random message id in 1..65535.
// Zero is reserved so an unset id never matches an awaited ack.
func NewMessageID() uint16 {
	var b [2]byte
	for {
		var id uint16
		if _, err := crand.Read(b[:]); err == nil {
			id = binary.LittleEndian.Uint16(b[:])
		} else {
			id = uint16(mrand.Intn(65536))
		}
		if id != 0 {
			return id
		}
	}
}
