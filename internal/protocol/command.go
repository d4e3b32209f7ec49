// internal/protocol/command.go
package protocol

// Command is the 3-byte ASCII code identifying a payload variant.
// It is not NUL-terminated on the wire.
type Command [CommandSize]byte

func (c Command) String() string { return string(c[:]) }

// CommandFrom builds a Command from a string.
// Shorter strings are NUL-padded, longer ones truncated.
func CommandFrom(s string) Command {
	var c Command
	copy(c[:], s)
	return c
}

var (
	CmdAck       = CommandFrom("ack")
	CmdTrigger   = CommandFrom("trg")
	CmdLog       = CommandFrom("log")
	CmdSecurity  = CommandFrom("sec")
	CmdConfig    = CommandFrom("cfg")
	CmdOTA       = CommandFrom("ota")
	CmdDebug     = CommandFrom("dbg")
	CmdPing      = CommandFrom("pin")
	CmdPong      = CommandFrom("pon")
	CmdBegin     = CommandFrom("bgn")
	CmdEnd       = CommandFrom("end")
	CmdBTConfig  = CommandFrom("btc")
	CmdAlt       = CommandFrom("alt")
	CmdError     = CommandFrom("err")
	CmdStatus    = CommandFrom("sts")
	CmdStatusReq = CommandFrom("stq")
	CmdFlush     = CommandFrom("fls")
)

// genericCommands carry no body beyond the device name.
var genericCommands = map[Command]bool{
	CmdOTA:       true,
	CmdDebug:     true,
	CmdPing:      true,
	CmdBegin:     true,
	CmdEnd:       true,
	CmdBTConfig:  true,
	CmdFlush:     true,
	CmdStatusReq: true,
}

// IsGeneric reports whether c is a body-less command code.
func IsGeneric(c Command) bool { return genericCommands[c] }
