// internal/protocol/cursor.go
package protocol

import "encoding/binary"

// writer appends fields in wire order and patches payload_size on finish.
type writer struct {
	buf []byte
}

func newWriter(id uint16, cmd Command, name string, bodySize int) *writer {
	w := &writer{buf: make([]byte, 0, BaseSize+bodySize)}
	w.u16(id)
	w.raw(cmd[:])
	w.u16(0) // payload_size, patched in finish()
	w.name(name)
	return w
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

// name writes the fixed-width, NUL-padded device name.
func (w *writer) name(s string) {
	var field [DeviceNameSize]byte
	copy(field[:], s)
	w.raw(field[:])
}

func (w *writer) finish() []byte {
	binary.LittleEndian.PutUint16(w.buf[OffsetPayloadSize:], uint16(len(w.buf)))
	return w.buf
}

// reader consumes fields in wire order.
// Reads past the end yield zero values; callers validate length first.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) []byte {
	if r.off+n > len(r.buf) {
		r.off = len(r.buf)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

// rest returns a copy of the remaining bytes.
func (r *reader) rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
