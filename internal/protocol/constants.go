// internal/protocol/constants.go
package protocol

// Wire layout constants.
// These values define the protocol and MUST NOT be configurable.
//
// Layout:
//   MessageID(2) | Command(3) | PayloadSize(2) | DeviceName(20) | Body(var)
//
// All integers are little-endian. Firmware nodes write their native
// (little-endian) memory layout; peers of other endianness are not supported.

// ---- HEADER GEOMETRY ----

const (
	OffsetMessageID   = 0
	OffsetCommand     = 2
	OffsetPayloadSize = 5
	OffsetDeviceName  = 7
	OffsetBody        = OffsetDeviceName + DeviceNameSize

	CommandSize    = 3
	HeaderSize     = 7
	DeviceNameSize = 20

	// BaseSize is the smallest application payload: header + device name.
	BaseSize = OffsetBody
)

// ---- FRAME LIMITS ----

const (
	// MinFrameSize is the base validation floor used by the transport.
	MinFrameSize = HeaderSize

	// MaxFrameSize is the largest datagram the transport accepts.
	MaxFrameSize = 256

	MaxTriggerMap = 64
	MaxLogText    = MaxFrameSize - BaseSize - 1
)

// ---- VARIANT SIZES ----

const (
	AckSize           = BaseSize + 2
	TriggerMinSize    = BaseSize + 1
	GenericSize       = BaseSize
	SecuritySize      = BaseSize + 1
	LogMinSize        = BaseSize + 1
	ConfigurationSize = BaseSize + 1 + 4
	PongSize          = BaseSize + 1 + 4
	StatusSize        = BaseSize + 1 + 1 + 1 + 2
	ErrorSize         = BaseSize + 1 + 2
	AltSize           = BaseSize + 1 + 1
)

// BadPacketName marks a payload that failed to decode.
const BadPacketName = "BAD_PACKET__________"

// ---- NETWORK ----

const (
	MulticastGroup = "239.1.1.69"
	MulticastPort  = 6901
	UnicastPort    = 6902
)
