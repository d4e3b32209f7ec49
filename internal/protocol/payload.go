// internal/protocol/payload.go
package protocol

import (
	"bytes"
	"encoding/binary"
)

// Payload is any encodable message variant.
type Payload interface {
	ID() uint16
	Command() Command
	Name() string
	Encode() []byte
}

// Header is the fixed 7-byte prefix shared by every variant.
type Header struct {
	MessageID   uint16
	Command     Command
	PayloadSize uint16
}

// ParseHeader reads the header fields.
// ok is false when b is shorter than HeaderSize.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	var h Header
	h.MessageID = binary.LittleEndian.Uint16(b[OffsetMessageID:])
	copy(h.Command[:], b[OffsetCommand:OffsetCommand+CommandSize])
	h.PayloadSize = binary.LittleEndian.Uint16(b[OffsetPayloadSize:])
	return h, true
}

// DeviceName reads the 20-byte name field at its fixed offset,
// regardless of declared body size. The first NUL terminates the string.
// Frames too short to hold a name yield BadPacketName.
func DeviceName(b []byte) string {
	if len(b) < OffsetDeviceName+DeviceNameSize {
		return BadPacketName
	}
	field := b[OffsetDeviceName : OffsetDeviceName+DeviceNameSize]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// Base carries the fields common to every application payload.
type Base struct {
	MessageID  uint16
	DeviceName string
}

func (b Base) ID() uint16 { return b.MessageID }
func (b Base) Name() string { return b.DeviceName }
func (b Base) IsBad() bool { return b.DeviceName == BadPacketName }

func newBase(name string) Base {
	return Base{MessageID: NewMessageID(), DeviceName: name}
}

var badBase = Base{DeviceName: BadPacketName}

// open validates a frame for one variant and returns a reader positioned at the body.
// The frame must carry cmd, its payload_size must equal len(b), and len(b) must lie in [lo, hi].
func open(b []byte, cmd Command, lo, hi int) (*reader, Base, bool) {
	if len(b) < lo || len(b) > hi {
		return nil, badBase, false
	}
	h, ok := ParseHeader(b)
	if !ok || h.Command != cmd || int(h.PayloadSize) != len(b) {
		return nil, badBase, false
	}
	base := Base{MessageID: h.MessageID, DeviceName: DeviceName(b)}
	return &reader{buf: b, off: OffsetBody}, base, true
}
