// internal/protocol/messages.go
package protocol

import "unicode/utf8"

// ---- ENUMS CARRIED ON THE WIRE ----

// DeviceType identifies the hardware class of the sending node.
type DeviceType uint8

const (
	DeviceUnknown DeviceType = 0
	DeviceIRGrid  DeviceType = 1
	DevicePIR     DeviceType = 2
	DeviceSonar   DeviceType = 3
	DeviceLaser   DeviceType = 4
	DeviceSwitch  DeviceType = 5
	DeviceDoor    DeviceType = 6
	DeviceAlarm   DeviceType = 7
	DeviceRelay   DeviceType = 8
)

// SecurityState is the mesh-wide lock state.
type SecurityState uint8

const (
	SecurityUnlocked SecurityState = 0
	SecurityLocked   SecurityState = 1
	SecurityAlert    SecurityState = 2
	SecurityBreach   SecurityState = 3
)

// LogLevel of a LogMessage.
type LogLevel uint8

const (
	LogDebug LogLevel = 0
	LogInfo  LogLevel = 1
	LogWarn  LogLevel = 2
	LogError LogLevel = 3
)

// ConfigKey selects the setting a Configuration message overrides.
type ConfigKey uint8

const (
	ConfigOpenDistance ConfigKey = 1 // mm
	ConfigOpenWait     ConfigKey = 2 // ms
	ConfigCooldown     ConfigKey = 3 // ms
	ConfigCloseTicks   ConfigKey = 4 // encoder ticks, fallback open threshold
	ConfigLocked       ConfigKey = 5 // 0/1
)

// ---- ACK ----

// Ack confirms receipt of the message whose id it carries.
type Ack struct {
	Base
	AckID uint16
}

// NewAck builds an acknowledgement. The message id is copied from the acknowledged message.
func NewAck(name string, ackID uint16) Ack {
	return Ack{Base: Base{MessageID: ackID, DeviceName: name}, AckID: ackID}
}

func (Ack) Command() Command { return CmdAck }

func (m Ack) Encode() []byte {
	w := newWriter(m.MessageID, CmdAck, m.DeviceName, 2)
	w.u16(m.AckID)
	return w.finish()
}

func DecodeAck(b []byte) Ack {
	r, base, ok := open(b, CmdAck, AckSize, AckSize)
	if !ok {
		return Ack{Base: base}
	}
	return Ack{Base: base, AckID: r.u16()}
}

// ---- TRIGGER ----

// Trigger announces a sensor/switch event that may authorize actuation.
// Map carries sensor-specific bytes (e.g. an IR grid hot-cell bitmap).
type Trigger struct {
	Base
	Device DeviceType
	Map    []byte
}

func NewTrigger(name string, device DeviceType, m []byte) Trigger {
	return Trigger{Base: newBase(name), Device: device, Map: m}
}

func (Trigger) Command() Command { return CmdTrigger }

func (m Trigger) Encode() []byte {
	data := m.Map
	if len(data) > MaxTriggerMap {
		data = data[:MaxTriggerMap]
	}
	w := newWriter(m.MessageID, CmdTrigger, m.DeviceName, 1+len(data))
	w.u8(uint8(m.Device))
	w.raw(data)
	return w.finish()
}

func DecodeTrigger(b []byte) Trigger {
	r, base, ok := open(b, CmdTrigger, TriggerMinSize, TriggerMinSize+MaxTriggerMap)
	if !ok {
		return Trigger{Base: base, Map: []byte{}}
	}
	return Trigger{Base: base, Device: DeviceType(r.u8()), Map: r.rest()}
}

// ---- GENERIC ----

// GenericMessage is any single-purpose code with no body (ping, begin/end, flush, ...).
type GenericMessage struct {
	Base
	Cmd Command
}

func NewGeneric(name string, cmd Command) GenericMessage {
	return GenericMessage{Base: newBase(name), Cmd: cmd}
}

func (m GenericMessage) Command() Command { return m.Cmd }

func (m GenericMessage) Encode() []byte {
	return newWriter(m.MessageID, m.Cmd, m.DeviceName, 0).finish()
}

// DecodeGeneric accepts any body-less command code.
func DecodeGeneric(b []byte) GenericMessage {
	h, ok := ParseHeader(b)
	if !ok || !IsGeneric(h.Command) {
		return GenericMessage{Base: badBase}
	}
	_, base, ok := open(b, h.Command, GenericSize, GenericSize)
	if !ok {
		return GenericMessage{Base: base}
	}
	return GenericMessage{Base: base, Cmd: h.Command}
}

// ---- SECURITY ----

type Security struct {
	Base
	State SecurityState
}

func NewSecurity(name string, state SecurityState) Security {
	return Security{Base: newBase(name), State: state}
}

func (Security) Command() Command { return CmdSecurity }

func (m Security) Encode() []byte {
	w := newWriter(m.MessageID, CmdSecurity, m.DeviceName, 1)
	w.u8(uint8(m.State))
	return w.finish()
}

func DecodeSecurity(b []byte) Security {
	r, base, ok := open(b, CmdSecurity, SecuritySize, SecuritySize)
	if !ok {
		return Security{Base: base}
	}
	return Security{Base: base, State: SecurityState(r.u8())}
}

// ---- LOG ----

type LogMessage struct {
	Base
	Level LogLevel
	Text  string
}

func NewLog(name string, level LogLevel, text string) LogMessage {
	return LogMessage{Base: newBase(name), Level: level, Text: text}
}

func (LogMessage) Command() Command { return CmdLog }

func (m LogMessage) Encode() []byte {
	text := m.Text
	if len(text) > MaxLogText {
		n := MaxLogText
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	w := newWriter(m.MessageID, CmdLog, m.DeviceName, 1+len(text))
	w.u8(uint8(m.Level))
	w.raw([]byte(text))
	return w.finish()
}

func DecodeLog(b []byte) LogMessage {
	r, base, ok := open(b, CmdLog, LogMinSize, MaxFrameSize)
	if !ok {
		return LogMessage{Base: base}
	}
	level := LogLevel(r.u8())
	return LogMessage{Base: base, Level: level, Text: string(r.rest())}
}

// ---- CONFIGURATION ----

type Configuration struct {
	Base
	Key   ConfigKey
	Value int32
}

func NewConfiguration(name string, key ConfigKey, value int32) Configuration {
	return Configuration{Base: newBase(name), Key: key, Value: value}
}

func (Configuration) Command() Command { return CmdConfig }

func (m Configuration) Encode() []byte {
	w := newWriter(m.MessageID, CmdConfig, m.DeviceName, 5)
	w.u8(uint8(m.Key))
	w.i32(m.Value)
	return w.finish()
}

func DecodeConfiguration(b []byte) Configuration {
	r, base, ok := open(b, CmdConfig, ConfigurationSize, ConfigurationSize)
	if !ok {
		return Configuration{Base: base}
	}
	key := ConfigKey(r.u8())
	return Configuration{Base: base, Key: key, Value: r.i32()}
}

// ---- PONG ----

type Pong struct {
	Base
	Device DeviceType
	Uptime uint32 // seconds
}

func NewPong(name string, device DeviceType, uptime uint32) Pong {
	return Pong{Base: newBase(name), Device: device, Uptime: uptime}
}

func (Pong) Command() Command { return CmdPong }

func (m Pong) Encode() []byte {
	w := newWriter(m.MessageID, CmdPong, m.DeviceName, 5)
	w.u8(uint8(m.Device))
	w.u32(m.Uptime)
	return w.finish()
}

func DecodePong(b []byte) Pong {
	r, base, ok := open(b, CmdPong, PongSize, PongSize)
	if !ok {
		return Pong{Base: base}
	}
	device := DeviceType(r.u8())
	return Pong{Base: base, Device: device, Uptime: r.u32()}
}

// ---- STATUS ----

// StatusMessage reports a node's health snapshot.
type StatusMessage struct {
	Base
	Health         uint8
	Phase          uint8
	LastError      uint8
	SecondsInError uint16
}

func (StatusMessage) Command() Command { return CmdStatus }

func NewStatus(name string, health, phase, lastError uint8, secondsInError uint16) StatusMessage {
	return StatusMessage{
		Base:           newBase(name),
		Health:         health,
		Phase:          phase,
		LastError:      lastError,
		SecondsInError: secondsInError,
	}
}

func (m StatusMessage) Encode() []byte {
	w := newWriter(m.MessageID, CmdStatus, m.DeviceName, 5)
	w.u8(m.Health)
	w.u8(m.Phase)
	w.u8(m.LastError)
	w.u16(m.SecondsInError)
	return w.finish()
}

func DecodeStatus(b []byte) StatusMessage {
	r, base, ok := open(b, CmdStatus, StatusSize, StatusSize)
	if !ok {
		return StatusMessage{Base: base}
	}
	m := StatusMessage{Base: base}
	m.Health = r.u8()
	m.Phase = r.u8()
	m.LastError = r.u8()
	m.SecondsInError = r.u16()
	return m
}

// ---- ERROR ----

// Error broadcasts a device fault. Kind is device-defined (the winch error kind for doors).
type Error struct {
	Base
	Kind uint8
	Code uint16
}

func NewError(name string, kind uint8, code uint16) Error {
	return Error{Base: newBase(name), Kind: kind, Code: code}
}

func (Error) Command() Command { return CmdError }

func (m Error) Encode() []byte {
	w := newWriter(m.MessageID, CmdError, m.DeviceName, 3)
	w.u8(m.Kind)
	w.u16(m.Code)
	return w.finish()
}

func DecodeError(b []byte) Error {
	r, base, ok := open(b, CmdError, ErrorSize, ErrorSize)
	if !ok {
		return Error{Base: base}
	}
	kind := r.u8()
	return Error{Base: base, Kind: kind, Code: r.u16()}
}

// ---- ALT ----

// Alt switches an alarm/relay zone on or off.
type Alt struct {
	Base
	Active bool
	Zone   uint8
}

func NewAlt(name string, active bool, zone uint8) Alt {
	return Alt{Base: newBase(name), Active: active, Zone: zone}
}

func (Alt) Command() Command { return CmdAlt }

func (m Alt) Encode() []byte {
	w := newWriter(m.MessageID, CmdAlt, m.DeviceName, 2)
	var active uint8
	if m.Active {
		active = 1
	}
	w.u8(active)
	w.u8(m.Zone)
	return w.finish()
}

func DecodeAlt(b []byte) Alt {
	r, base, ok := open(b, CmdAlt, AltSize, AltSize)
	if !ok {
		return Alt{Base: base}
	}
	active := r.u8() != 0
	return Alt{Base: base, Active: active, Zone: r.u8()}
}

// ---- DEMUX ----

// Decode parses any frame by its command code.
// It never fails: unknown or malformed frames yield a sentinel whose IsBad() is true.
func Decode(b []byte) Payload {
	h, ok := ParseHeader(b)
	if !ok {
		return GenericMessage{Base: badBase}
	}
	switch h.Command {
	case CmdAck:
		return DecodeAck(b)
	case CmdTrigger:
		return DecodeTrigger(b)
	case CmdSecurity:
		return DecodeSecurity(b)
	case CmdLog:
		return DecodeLog(b)
	case CmdConfig:
		return DecodeConfiguration(b)
	case CmdPong:
		return DecodePong(b)
	case CmdStatus:
		return DecodeStatus(b)
	case CmdError:
		return DecodeError(b)
	case CmdAlt:
		return DecodeAlt(b)
	}
	if IsGeneric(h.Command) {
		return DecodeGeneric(b)
	}
	return GenericMessage{Base: badBase, Cmd: h.Command}
}

// IsBad reports whether p is a decode-failure sentinel.
func IsBad(p Payload) bool { return p.Name() == BadPacketName }
